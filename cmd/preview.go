package cmd

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"sync"

	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/ShoshinNikita/filepreview/resolver"
	"github.com/ShoshinNikita/filepreview/session"
	"github.com/ShoshinNikita/filepreview/thumbnails"
	"github.com/ShoshinNikita/filepreview/transport"
	"github.com/ShoshinNikita/filepreview/web"
)

type Preview struct {
	cfg preview.Config

	resolver    *resolver.Resolver
	thumbnailer session.Thumbnailer

	server *web.Server
}

func NewPreview(cfg preview.Config) *Preview {
	return &Preview{
		cfg: cfg,
	}
}

func (p *Preview) Prepare() error {
	var baseURL *url.URL
	if p.cfg.BaseURL != "" {
		var err error
		baseURL, err = url.Parse(p.cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
	}

	httpTransport := transport.NewHTTPTransport(p.cfg.RequestTimeout)

	// Resolver
	p.resolver = resolver.New(baseURL, httpTransport)

	// Thumbnailer
	if p.cfg.Thumbnails {
		p.thumbnailer = thumbnails.NewThumbnailer(thumbnails.Options{
			Rasterizer:   thumbnails.NewFitzRasterizer(),
			Transport:    httpTransport,
			DefaultWidth: p.cfg.Clarity,
			MaxWidth:     p.cfg.MaxClarity,
			MaxPDFSize:   p.cfg.MaxPDFSize.Bytes(),
		})
	} else {
		rlog.Debug("thumbnail generation is disabled")

		p.thumbnailer = thumbnails.NewNoopThumbnailer()
	}

	// Web Server
	p.server = web.NewServer(p.cfg, p.resolver, p.thumbnailer)

	return nil
}

func (p *Preview) Start(onError func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for name, s := range map[string]interface{ Start() error }{
			"web server": p.server,
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := s.Start(); err != nil {
					rlog.Errorf("%s error: %s", name, err)
					onError()
				}
			}()
		}
		wg.Wait()

		close(done)
	}()

	return done
}

// Shutdown shutdowns all components. It is safe to call this method even if Prepare has failed.
func (p *Preview) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"web server", p.server},
	} {
		err := safeShutdown(ctx, v.s)
		if err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("couldn't gracefully shutdown %d component(s), see logs for more info", failed)
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
