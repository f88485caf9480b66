package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sahilm "github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Napageneral/msgbridge/imessage"
	"github.com/Napageneral/msgbridge/internal/bridge"
	"github.com/Napageneral/msgbridge/internal/config"
	"github.com/Napageneral/msgbridge/internal/logging"
	"github.com/Napageneral/msgbridge/internal/watch"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "msgbridge",
		Short:         "msgbridge - Bridge AI tooling to the macOS Messages app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		versionCmd(),
		pathsCmd(),
		doctorCmd(),
		recentCmd(),
		searchCmd(),
		contactsCmd(),
		resolveCmd(),
		chatsCmd(),
		sendCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newService() (*bridge.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bridge.New(cfg, nil), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(map[string]interface{}{
				"version": version,
				"go":      "1.23",
			})
		},
	}
}

func pathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print msgbridge store and config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"app_dir":         config.GetAppDir(),
				"config_path":     config.ConfigPath(),
				"chat_db":         cfg.ChatDBPath,
				"addressbook_dir": cfg.AddressBookDir,
				"log_path":        cfg.LogPath,
			})
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose chat.db and AddressBook access",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			return printJSON(svc.Doctor())
		},
	}
}

func recentCmd() *cobra.Command {
	var hours int
	var contact string
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent messages, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			result, err := svc.RecentMessages(hours, contact)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "how many hours back to look")
	cmd.Flags().StringVar(&contact, "contact", "", "filter by contact name, phone, email, or contact:N")
	return cmd
}

func searchCmd() *cobra.Command {
	var hours int
	var threshold float64
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Fuzzy-search message content in a time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			results, err := svc.SearchMessages(args[0], hours, threshold)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"term":    args[0],
				"results": results,
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 168, "how many hours back to search")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "minimum similarity score in [0,1]")
	return cmd
}

func contactsCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List AddressBook contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			all, err := svc.Contacts()
			if err != nil {
				return err
			}
			if filter != "" {
				names := make([]string, len(all))
				for i, c := range all {
					names[i] = c.Name
				}
				matches := sahilm.Find(filter, names)
				filtered := all[:0:0]
				for _, m := range matches {
					filtered = append(filtered, all[m.Index])
				}
				all = filtered
			}
			return printJSON(map[string]interface{}{
				"count":    len(all),
				"contacts": all,
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "subsequence filter on contact names")
	return cmd
}

func resolveCmd() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve a contact name to addressable identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			res, err := svc.ResolveContact(args[0], threshold)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "minimum similarity score in [0,1]")
	return cmd
}

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations and their participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			convs, err := svc.Conversations()
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"count": len(convs),
				"chats": convs,
			})
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <message>",
		Short: "Send a message via iMessage, falling back to SMS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			svc := bridge.New(cfg, log)
			result, err := svc.Send(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func watchCmd() *cobra.Command {
	var debounceSec int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch chat.db and print new messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := watch.New(cfg.ChatDBPath, secondsToDuration(debounceSec), log, func(msgs []imessage.Message) {
				for _, m := range msgs {
					if err := printJSON(m); err != nil {
						log.Warn("failed to print message", zap.Error(err))
					}
				}
			})
			return w.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&debounceSec, "debounce", 2, "seconds to wait after a change before querying")
	return cmd
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func printJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
