package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyTenant          = "tenant"
	keyBookingURL      = "booking-url"
	keyNotificationURL = "notification-url"
	keyGRPCAddr        = "grpc-addr"
	keyTimeout         = "timeout"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "apptctl",
		Short:         "Operate the booking and notification services",
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig(v, cfgFile)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.apptctl.yaml)")
	flags.String(keyTenant, "", "tenant id sent as X-Tenant-Id")
	flags.String(keyBookingURL, "http://localhost:8083", "booking-service base URL")
	flags.String(keyNotificationURL, "http://localhost:8085", "notification-service base URL")
	flags.String(keyGRPCAddr, "localhost:9093", "booking-service gRPC address")
	flags.Duration(keyTimeout, 70*time.Second, "per-request timeout")
	_ = v.BindPFlags(flags)

	root.AddCommand(slotsCmd(v), gatewayCmd(v), healthCmd(v))
	return root
}

// loadConfig layers flags over APPTCTL_* env over the config file.
func loadConfig(v *viper.Viper, file string) error {
	v.SetEnvPrefix("APPTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".apptctl")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func newAPI(v *viper.Viper) (*apiClient, error) {
	tenant := strings.TrimSpace(v.GetString(keyTenant))
	if tenant == "" {
		return nil, errors.New("tenant is required (--tenant, APPTCTL_TENANT or config file)")
	}
	return newAPIClient(tenant, v.GetDuration(keyTimeout)), nil
}
