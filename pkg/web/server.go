package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"pacbridge/cmd/gateway/config"
	"pacbridge/cmd/gateway/options"
	"pacbridge/pkg/gateway"
	"pacbridge/pkg/generic"
	"pacbridge/pkg/scheduler"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type Server struct {
	*generic.Server
	*config.Config
}

func NewServer(router *gin.Engine, o *options.Options, config *config.Config) (*Server, error) {
	allowMethods := []string{http.MethodPost, http.MethodGet, http.MethodPut}

	s := &generic.Server{
		Router:  router,
		Port:    o.Port,
		Methods: allowMethods,
	}

	server := &Server{
		Server: s,
		Config: config,
	}

	server.InstallHandlers()

	return server, nil
}

func (s *Server) InstallHandlers() {
	v1 := s.Router.Group("/api/v1")
	scheduler.InstallHandler(v1, s.Config.Scheduler)
	gateway.InstallHandler(v1, s.Config.GatewayMgr)
}

// Serve starts the OPC-UA server, the update scheduler and the HTTP API.
// The returned func stops them in reverse order.
func (s *Server) Serve() (func(ctx context.Context), error) {
	ctx, cancel := context.WithCancel(context.Background())
	if s.Config.OpcUa != nil {
		if err := s.Config.OpcUa.Start(ctx); err != nil {
			cancel()
			return nil, err
		}
	}

	s.Config.Scheduler.Connect()
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		s.Config.Scheduler.Run(ctx)
	}()

	var srv *http.Server
	if len(s.Config.CertFile) != 0 && len(s.Config.KeyFile) != 0 {
		x509KeyPair, err := tls.LoadX509KeyPair(s.Config.CertFile, s.Config.KeyFile)
		if err != nil {
			cancel()
			<-schedulerDone
			return nil, err
		}
		c := &tls.Config{
			Certificates: []tls.Certificate{x509KeyPair},
		}

		srv = &http.Server{
			Addr:      fmt.Sprintf(":%s", s.Port),
			Handler:   s.Router,
			TLSConfig: c,
		}
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve HTTPS", "port", s.Port)
			}
		}()
	} else {
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%s", s.Port),
			Handler: s.Router,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Failed to serve HTTP", "port", s.Port)
			}
		}()
	}

	return func(shutdownCtx context.Context) {
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Error(err)
		}
		cancel()
		select {
		case <-schedulerDone:
		case <-shutdownCtx.Done():
			klog.V(1).InfoS("Failed to stop update scheduler in time")
		}
		if s.Config.OpcUa != nil {
			if err := s.Config.OpcUa.Close(); err != nil {
				klog.Error(err)
			}
		}
		s.Config.Sink.Close()
	}, nil
}
