package session

import (
	"github.com/ShoshinNikita/filepreview/preview"
)

type NodeKind string

const (
	NodeNone         NodeKind = "none"
	NodePlaceholder  NodeKind = "placeholder"
	NodeImage        NodeKind = "image"
	NodeVideo        NodeKind = "video"
	NodePDFThumbnail NodeKind = "pdf_thumbnail"
	// NodePDFSource is shown when there is no thumbnail: it is still being rendered, or
	// rendering has failed.
	NodePDFSource   NodeKind = "pdf_source"
	NodeErrorImage  NodeKind = "error_image"
	NodeUnsupported NodeKind = "unsupported"
)

const UnsupportedFileTypeText = "Unsupported file type"

// Node is a renderable description of a preview.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Src      string   `json:"src,omitempty"`
	Alt      string   `json:"alt,omitempty"`
	Text     string   `json:"text,omitempty"`
	Controls bool     `json:"controls,omitempty"`
	Width    int      `json:"width,omitempty"`
	Height   int      `json:"height,omitempty"`
	// Loading means the loading indicator should be shown over the node.
	Loading bool `json:"loading"`
	// OpenURL is opened in a new tab on click.
	OpenURL string `json:"open_url,omitempty"`
}

// Render maps the session state to a node.
func Render(snap Snapshot) Node {
	props := snap.Props
	loading := !snap.State.Settled()

	switch snap.State {
	case StateUnresolved, StateResolving:
		if props.PlaceholderImage != "" {
			return Node{Kind: NodePlaceholder, Src: props.PlaceholderImage, Alt: "placeholder"}
		}
		return Node{Kind: NodeNone, Loading: loading}
	}

	switch snap.Type {
	case preview.FileTypeImage:
		return Node{Kind: NodeImage, Src: snap.SourceRef, Alt: "Preview", Loading: loading, OpenURL: snap.SourceRef}

	case preview.FileTypeVideo:
		return Node{Kind: NodeVideo, Src: snap.SourceRef, Controls: true, Loading: loading, OpenURL: snap.SourceRef}

	case preview.FileTypePDF:
		if snap.State == StateRendered && snap.Thumbnail != nil {
			return Node{
				Kind:    NodePDFThumbnail,
				Src:     snap.Thumbnail.DataURL(),
				Alt:     "PDF Preview",
				Width:   snap.Thumbnail.Width,
				Height:  snap.Thumbnail.Height,
				OpenURL: snap.SourceRef,
			}
		}
		return Node{Kind: NodePDFSource, Src: snap.SourceRef, Alt: "PDF Preview", Loading: loading, OpenURL: snap.SourceRef}

	case preview.FileTypeUnknown:
		if props.ErrorImage != "" {
			return Node{Kind: NodeErrorImage, Src: props.ErrorImage, Alt: "errorImage"}
		}
	}
	return Node{Kind: NodeUnsupported, Text: UnsupportedFileTypeText}
}
