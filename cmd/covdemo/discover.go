package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

var (
	discoverLow     int64
	discoverHigh    int64
	discoverObjects bool
	discoverAll     bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Broadcast Who-Is and list the devices that answer",
	Long: `Broadcast a Who-Is, optionally limited to --low..--high, and print every
device that answers. With --objects the object list and present-values of
each device are read too; --all reads every property of every object.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Int64Var(&discoverLow, "low", -1, "lowest device instance (with --high)")
	discoverCmd.Flags().Int64Var(&discoverHigh, "high", -1, "highest device instance (with --low)")
	discoverCmd.Flags().BoolVar(&discoverObjects, "objects", false, "read object lists and present-values")
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "read every property of every object")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var low, high *uint32
	if discoverLow >= 0 && discoverHigh >= 0 {
		if discoverLow > discoverHigh || discoverHigh > int64(bacnet.BACNET_MAX_INSTANCE) {
			return fmt.Errorf("invalid device range %d..%d", discoverLow, discoverHigh)
		}
		l, h := uint32(discoverLow), uint32(discoverHigh)
		low, high = &l, &h
	}

	client, err := newBACnetClient(cfg.BACnet, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Performing Who-Is broadcast...")
	devices, err := client.WhoIs(ctx, low, high)
	if err != nil {
		return fmt.Errorf("who-is: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return nil
	}

	fmt.Fprintf(out, "Discovered %d device(s):\n", len(devices))
	for _, device := range devices {
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "Device ID: %d\n", device.DeviceID)
		fmt.Fprintf(out, "Address: %s, Max APDU: %d, Vendor: %d\n", device.Addr(), device.MaxAPDU, device.VendorID)
		if discoverObjects || discoverAll {
			describeDevice(ctx, out, client, device)
		}
	}
	fmt.Fprintln(out, "----------------------------------------")
	return nil
}

func describeDevice(ctx context.Context, out io.Writer, client *bacnet.BACnetClient, device bacnet.DeviceInfo) {
	objects, err := client.ReadObjectList(ctx, device)
	if err != nil {
		fmt.Fprintf(out, "  Failed to get object list: %v\n", err)
		return
	}
	fmt.Fprintf(out, "  Found %d object(s):\n", len(objects))

	if !discoverAll {
		values, err := client.ReadPropertyFromObjects(ctx, device, objects, bacnet.PROP_PRESENT_VALUE)
		if err != nil {
			logger.Debug("present-value read failed, listing objects only", "device_id", device.DeviceID, "error", err)
		}
		for _, obj := range objects {
			if v, ok := values[obj]; ok {
				fmt.Fprintf(out, "    - %s = %s\n", notify.ObjectName(obj), notify.FormatValue(v))
			} else {
				fmt.Fprintf(out, "    - %s\n", notify.ObjectName(obj))
			}
		}
		return
	}

	for _, obj := range objects {
		fmt.Fprintf(out, "    - %s\n", notify.ObjectName(obj))
		res, err := client.ReadAllProperties(ctx, device, obj)
		if err != nil {
			fmt.Fprintf(out, "      Failed to read properties: %v\n", err)
			continue
		}
		for _, pv := range res.Values {
			fmt.Fprintf(out, "      %s = %s\n", notify.PropertyName(pv.PropertyID), notify.FormatValue(pv.Value))
		}
		for prop, pduErr := range res.Errors {
			fmt.Fprintf(out, "      %s: %s - %s\n", notify.PropertyName(prop), pduErr.ClassName(), pduErr.CodeName())
		}
	}
}
