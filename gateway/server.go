package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// Server 在主端口与管理端口上运行网关
type Server struct {
	gw     *Gateway
	main   *http.Server
	admin  *http.Server
	logger clog.Logger
}

// NewServer 创建服务器；管理接口挂在主端口时不单独监听
func NewServer(g *Gateway) *Server {
	s := &Server{
		gw:     g,
		logger: g.logger,
		main: &http.Server{
			Addr:              g.cfg.Addr,
			Handler:           g.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if !g.cfg.adminOnMain() {
		s.admin = &http.Server{
			Addr:              g.cfg.AdminAddr,
			Handler:           g.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

// Run 监听配置的地址并服务，直到 ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	mainLn, err := net.Listen("tcp", s.main.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.main.Addr)
	}
	var adminLn net.Listener
	if s.admin != nil {
		if adminLn, err = net.Listen("tcp", s.admin.Addr); err != nil {
			_ = mainLn.Close()
			return xerrors.Wrapf(err, "listen %s", s.admin.Addr)
		}
	}
	return s.Serve(ctx, mainLn, adminLn)
}

// Serve 在给定的 Listener 上服务，adminLn 可为 nil
func (s *Server) Serve(ctx context.Context, mainLn, adminLn net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)

	serve := func(srv *http.Server, ln net.Listener, kind string) {
		eg.Go(func() error {
			s.logger.Info("server listening", clog.String("kind", kind), clog.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return xerrors.Wrapf(err, "%s server", kind)
			}
			return nil
		})
	}

	serve(s.main, mainLn, "gateway")
	servers := []*http.Server{s.main}
	if s.admin != nil && adminLn != nil {
		serve(s.admin, adminLn, "admin")
		servers = append(servers, s.admin)
	}

	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.gw.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return xerrors.Combine(errs...)
	})

	return eg.Wait()
}
