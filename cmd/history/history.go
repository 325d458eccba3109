package history

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/datastore"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/events"
	"github.com/tphakala/audiopolicy/internal/output"
)

// Command creates the command listing stored routing notifications.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit int
		kind  string
		prune time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored routing notifications",
		Long:  "List the routing notifications recorded by the service, newest first, or prune old ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.Newf("limit must be positive, got %d", limit).
					Component("history").
					Category(errors.CategoryValidation).
					Build()
			}

			store := &datastore.SQLiteStore{Path: settings.History.Path, Debug: settings.Debug}
			if err := store.Open(); err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				removed, err := store.Prune(time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d events older than %s\n", removed, prune)
				return nil
			}

			var (
				stored []datastore.RoutingEvent
				err    error
			)
			if kind != "" {
				stored, err = store.ByKind(kind, limit)
			} else {
				stored, err = store.Recent(limit)
			}
			if err != nil {
				return err
			}
			renderEvents(cmd.OutOrStdout(), stored)
			return nil
		},
	}

	cmd.Flags().StringVar(&settings.History.Path, "path", settings.History.Path, "Path of the routing history database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show events of this kind (port_list, patch_list, device_state, mix_state, recording)")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete events older than this age instead of listing")
	return cmd
}

func renderEvents(w io.Writer, stored []datastore.RoutingEvent) {
	if len(stored) == 0 {
		fmt.Fprintln(w, "No routing events recorded")
		return
	}

	rows := make([][]string, 0, len(stored))
	for i := range stored {
		e := &stored[i]
		rows = append(rows, []string{
			e.Timestamp.Local().Format(time.DateTime),
			e.Kind,
			strconv.FormatUint(uint64(e.Generation), 10),
			describe(e),
		})
	}
	fmt.Fprintln(w, output.RenderTable(
		[]string{"Time", "Kind", "Generation", "Detail"},
		rows,
		[]output.Alignment{output.AlignLeft, output.AlignLeft, output.AlignRight},
	))
}

// describe summarizes the kind specific fields of an event.
func describe(e *datastore.RoutingEvent) string {
	switch events.Kind(e.Kind) {
	case events.KindDeviceState, events.KindMixState:
		detail := strings.TrimSpace(e.Device + " " + e.State)
		if e.Address != "" {
			detail += " (" + e.Address + ")"
		}
		return detail
	case events.KindRecording:
		state := "stopped"
		if e.Active {
			state = "active"
		}
		return fmt.Sprintf("%s uid %d session %d on %s %s", e.Source, e.UID, e.Session, e.Device, state)
	}
	return ""
}
