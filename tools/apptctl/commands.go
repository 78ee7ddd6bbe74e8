package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/grpcx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

func slotsCmd(v *viper.Viper) *cobra.Command {
	var scheduleID, serviceID, professionalID, date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the bookable slots of a schedule for one day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPI(v)
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("schedule_id", scheduleID)
			q.Set("service_id", serviceID)
			q.Set("date", date)
			if professionalID != "" {
				q.Set("professional_id", professionalID)
			}
			var slots []slot
			if err := api.do(cmd.Context(), http.MethodGet, join(v.GetString(keyBookingURL), "/api/v1/slots?"+q.Encode()), nil, &slots); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range slots {
				state := "taken"
				if s.Available {
					state = "available"
				}
				fmt.Fprintf(out, "%s  %s\n", s.Time, state)
			}
			if len(slots) == 0 {
				fmt.Fprintln(out, "no slots (closed day)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scheduleID, "schedule-id", "", "schedule id")
	cmd.Flags().StringVar(&serviceID, "service-id", "", "service id")
	cmd.Flags().StringVar(&professionalID, "professional-id", "", "professional id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "day as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("schedule-id")
	_ = cmd.MarkFlagRequired("service-id")
	return cmd
}

type session struct {
	InstanceName    string `json:"instance_name"`
	ConnectionState string `json:"connection_state"`
	GatewayState    string `json:"gateway_state"`
	QRCode          string `json:"qr_code"`
}

func printSession(cmd *cobra.Command, s session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "instance:   %s\n", s.InstanceName)
	fmt.Fprintf(out, "connection: %s\n", s.ConnectionState)
	if s.GatewayState != "" {
		fmt.Fprintf(out, "gateway:    %s\n", s.GatewayState)
	}
	if s.QRCode != "" {
		fmt.Fprintf(out, "qr code:    %s\n", s.QRCode)
	}
}

func gatewayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the tenant's messaging gateway session",
	}
	base := func() string { return join(v.GetString(keyNotificationURL), "/api/v1/notifications/gateway") }

	var phone string
	connect := &cobra.Command{
		Use:   "connect",
		Short: "Provision the gateway instance and print its QR code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPI(v)
			if err != nil {
				return err
			}
			var s session
			if err := api.do(cmd.Context(), http.MethodPost, base()+"/connect", map[string]string{"phone_number": phone}, &s); err != nil {
				return err
			}
			printSession(cmd, s)
			return nil
		},
	}
	connect.Flags().StringVar(&phone, "phone", "", "phone number the session belongs to")

	getter := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				api, err := newAPI(v)
				if err != nil {
					return err
				}
				var s session
				if err := api.do(cmd.Context(), http.MethodGet, base()+path, nil, &s); err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			},
		}
	}

	disconnect := &cobra.Command{
		Use:   "disconnect",
		Short: "Delete the gateway instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPI(v)
			if err != nil {
				return err
			}
			if err := api.do(cmd.Context(), http.MethodDelete, base(), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
			return nil
		},
	}

	cmd.AddCommand(
		connect,
		getter("state", "Refresh and print the connection state", "/state"),
		getter("qrcode", "Print a fresh QR code", "/qrcode"),
		disconnect,
	)
	return cmd
}

func healthCmd(v *viper.Viper) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the booking-service gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := grpcx.HealthProbe(cmd.Context(), v.GetString(keyGRPCAddr), service)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != "SERVING" {
				return fmt.Errorf("%s is %s", v.GetString(keyGRPCAddr), status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "booking", "health service name (empty for overall)")
	return cmd
}
