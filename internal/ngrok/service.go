package ngrok

import (
	"context"
	"fmt"

	"oversounds/internal/config"

	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok/v2"
)

// Service publishes the storefront through an ngrok endpoint so a remote
// frontend can reach a locally running instance.
type Service struct {
	config *config.NgrokConfig
	logger *logrus.Logger
	agent  ngrok.Agent
	tunnel ngrok.EndpointForwarder
}

// NewService returns nil when the tunnel is disabled. The auth token comes
// from the config file or NGROK_AUTHTOKEN (already merged by config.ApplyEnv).
func NewService(cfg *config.NgrokConfig, logger *logrus.Logger) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("ngrok auth token not found. Set NGROK_AUTHTOKEN in .env file or config")
	}

	agent, err := ngrok.NewAgent(ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok agent: %w", err)
	}

	return &Service{
		config: cfg,
		logger: logger,
		agent:  agent,
	}, nil
}

// StartTunnel forwards the public endpoint to localAddress.
func (s *Service) StartTunnel(ctx context.Context, localAddress string) error {
	if s == nil {
		return nil
	}

	var endpointOpts []ngrok.EndpointOption
	if s.config.Domain != "" {
		endpointOpts = append(endpointOpts, ngrok.WithURL(s.config.Domain))
	}

	tunnel, err := s.agent.Forward(ctx, ngrok.WithUpstream(localAddress), endpointOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ngrok tunnel: %w", err)
	}
	s.tunnel = tunnel

	s.logger.WithFields(logrus.Fields{
		"public_url": tunnel.URL().String(),
		"upstream":   localAddress,
	}).Info("Ngrok tunnel active")
	return nil
}

// PublicURL returns the public URL of the tunnel, or "" when not running.
func (s *Service) PublicURL() string {
	if s == nil || s.tunnel == nil {
		return ""
	}
	return s.tunnel.URL().String()
}

// Stop closes the tunnel.
func (s *Service) Stop() error {
	if s == nil || s.tunnel == nil {
		return nil
	}
	s.logger.Info("Stopping ngrok tunnel")
	return s.tunnel.Close()
}
