package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stepsnap/stepsnap/internal/persist"
	"github.com/stepsnap/stepsnap/internal/session"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			kv, err := persist.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer kv.Close()

			sess, err := persist.NewSnapshotter(kv, cfg.Storage.FullImageRetention).Restore(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sess == nil {
				fmt.Fprintln(out, "no stored session")
				return nil
			}
			if asJSON {
				return writeSummaryJSON(out, sess)
			}
			writeSummary(out, sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON summary")
	return cmd
}

type stepSummary struct {
	Number      int    `json:"stepNumber"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	FullImage   bool   `json:"fullImage"`
	Thumbnail   bool   `json:"thumbnail"`
}

type sessionSummary struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    string        `json:"status"`
	StartURL  string        `json:"startUrl"`
	UpdatedAt string        `json:"updatedAt"`
	Steps     []stepSummary `json:"steps"`
}

func summarize(sess *session.CaptureSession) sessionSummary {
	sum := sessionSummary{
		ID:        sess.ID,
		Title:     sess.Title,
		Status:    sess.Status.String(),
		StartURL:  sess.StartURL,
		UpdatedAt: sess.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"),
		Steps:     make([]stepSummary, 0, len(sess.Steps)),
	}
	for _, st := range sess.Steps {
		sum.Steps = append(sum.Steps, stepSummary{
			Number:      st.Number,
			ID:          st.ID,
			Kind:        string(st.Event.Kind),
			Description: st.Description,
			FullImage:   st.Screenshot != "",
			Thumbnail:   st.Thumbnail != "",
		})
	}
	return sum
}

func writeSummaryJSON(w io.Writer, sess *session.CaptureSession) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summarize(sess))
}

func writeSummary(w io.Writer, sess *session.CaptureSession) {
	sum := summarize(sess)
	fmt.Fprintf(w, "session  %s\ntitle    %s\nstatus   %s\nstart    %s\nupdated  %s\n\n",
		sum.ID, sum.Title, sum.Status, sum.StartURL, sum.UpdatedAt)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tIMAGE\tDESCRIPTION")
	for _, st := range sum.Steps {
		img := "thumb"
		if st.FullImage {
			img = "full"
		} else if !st.Thumbnail {
			img = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Number, st.Kind, img, st.Description)
	}
	tw.Flush()
}
