package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerRuntimeCollectorsOnce sync.Once

func registerRuntimeCollectors() error {
	var regErr error
	registerRuntimeCollectorsOnce.Do(func() {
		if err := prometheus.DefaultRegisterer.Register(collectors.NewGoCollector()); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				regErr = fmt.Errorf("metrics register go collector: %w", err)
				return
			}
		}
		if err := prometheus.DefaultRegisterer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				regErr = fmt.Errorf("metrics register process collector: %w", err)
				return
			}
		}
	})
	return regErr
}

func shutdownHTTPServer(srv *http.Server, logger Logger, name string) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(name+" shutdown failed", "error", err)
	}
}
