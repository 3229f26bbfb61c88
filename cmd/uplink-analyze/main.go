package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/akhenakh/climateguard/config"
	"github.com/akhenakh/climateguard/payload"
)

var (
	rootCmd = &cobra.Command{
		Use:   "uplink-analyze [hex]",
		Short: "Decode sensor uplink payloads",
		Long:  "uplink-analyze decodes fixed layout and Cayenne LPP uplink payloads offline.",
		Args:  cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return cfg.Register()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				return runInteractive(ctx)
			}
			return runAnalyze(ctx, args[0])
		},
	}

	layoutsCmd = &cobra.Command{
		Use:   "layouts",
		Short: "List the known layouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range payload.Names() {
				c, err := payload.Lookup(name)
				if err != nil {
					return err
				}
				if l, ok := c.(payload.Layout); ok {
					fmt.Printf("%s\t%d bytes\t%d fields\n", name, l.Size(), len(l.Fields))
					continue
				}
				fmt.Printf("%s\tvariable\n", name)
			}
			return nil
		},
	}

	layoutName string
	configPath string
	asJSON     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&layoutName, "layout", payload.LayoutVersioned, "layout used to decode")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with custom layouts")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(layoutsCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func runInteractive(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	logrus.WithField("layout", layoutName).Info("uplink analyze mode. Paste a hex payload and press Enter (Ctrl+D to exit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runAnalyze(ctx, line); err != nil {
			logrus.WithError(err).Error("failed to decode payload")
		}
	}
	return scanner.Err()
}

func runAnalyze(ctx context.Context, s string) error {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	c, err := payload.Lookup(layoutName)
	if err != nil {
		return err
	}

	rec, err := c.Decode(b)
	if err != nil {
		return err
	}

	if l, ok := c.(payload.Layout); ok && len(b) > l.Size() {
		logrus.WithFields(logrus.Fields{
			"layout": l.Name,
			"size":   len(b),
			"used":   l.Size(),
		}).Warn("trailing bytes ignored")
	}

	if asJSON {
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	for _, k := range rec.Keys() {
		fmt.Printf("%-24s %v\n", k, rec[k])
	}
	return nil
}
