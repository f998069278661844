// Command mdnsd runs a standalone multicast DNS responder: it loads a YAML
// config naming the hostname, the default instance name, and the services
// to publish, then blocks answering queries until it is signaled to stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kdanielm/mdnsd"
)

type serviceConfig struct {
	Instance string   `yaml:"instance"`
	Type     string   `yaml:"type"`
	Proto    string   `yaml:"proto"`
	Port     uint16   `yaml:"port"`
	Priority uint16   `yaml:"priority"`
	Weight   uint16   `yaml:"weight"`
	TXT      []string `yaml:"txt"`
	Subtypes []string `yaml:"subtypes"`
}

type fileConfig struct {
	Hostname              string          `yaml:"hostname"`
	InstanceName          string          `yaml:"instance_name"`
	RespondReverseQueries bool            `yaml:"respond_reverse_queries"`
	SuppressOwnQueries    bool            `yaml:"suppress_own_queries"`
	Services              []serviceConfig `yaml:"services"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mdnsd: read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mdnsd: parse config: %w", err)
	}
	return &cfg, nil
}

// parseTXT turns "key=value" strings from YAML into mdns.TxtItem values;
// a bare "key" with no "=" becomes a valueless item.
func parseTXT(items []string) ([]mdns.TxtItem, error) {
	out := make([]mdns.TxtItem, 0, len(items))
	for _, raw := range items {
		key, value := raw, ""
		hasValue := false
		for i := 0; i < len(raw); i++ {
			if raw[i] == '=' {
				key, value = raw[:i], raw[i+1:]
				hasValue = true
				break
			}
		}
		var item mdns.TxtItem
		var err error
		if hasValue {
			item, err = mdns.NewTxtItem(key, []byte(value))
		} else {
			item, err = mdns.NewTxtItem(key, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("mdnsd: txt item %q: %w", raw, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mdnsd",
		Short: "Multicast DNS responder and resolver daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "mdnsd.yaml", "path to the YAML config file")
	return cmd
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("mdnsd: build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	opts := []mdns.Option{
		mdns.WithLogger(logger),
		mdns.WithRespondReverseQueries(cfg.RespondReverseQueries),
		mdns.WithSuppressOwnQueries(cfg.SuppressOwnQueries),
	}
	if cfg.Hostname != "" {
		opts = append(opts, mdns.WithHostname(cfg.Hostname))
	}
	if cfg.InstanceName != "" {
		opts = append(opts, mdns.WithInstanceName(cfg.InstanceName))
	}

	srv, err := mdns.New(opts...)
	if err != nil {
		return fmt.Errorf("mdnsd: start responder: %w", err)
	}
	defer srv.Close()

	for _, svc := range cfg.Services {
		txt, err := parseTXT(svc.TXT)
		if err != nil {
			return err
		}
		id, err := srv.ServiceAdd(mdns.ServiceParams{
			Instance: svc.Instance, Type: svc.Type, Proto: svc.Proto,
			Port: svc.Port, Priority: svc.Priority, Weight: svc.Weight,
			TXT: txt, Subtypes: svc.Subtypes,
		})
		if err != nil {
			return fmt.Errorf("mdnsd: register service %s.%s: %w", svc.Type, svc.Proto, err)
		}
		logger.Info("published service",
			zap.Uint64("id", id), zap.String("type", svc.Type), zap.String("proto", svc.Proto),
			zap.Uint16("port", svc.Port))
	}

	logger.Info("mdnsd running", zap.String("hostname", srv.HostnameGet()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
