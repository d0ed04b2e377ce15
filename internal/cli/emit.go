package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/blogcore/internal/changefeed"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Slug string
	NID  int
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <collection> <operation> [document-id]",
		Short: "Publish a change event to the broker",
		Long: `Publish a change event to the content exchange, as the content store
would. Every running server invalidates its cache and revalidates the
frontend in response.

Collections: posts, notes, pages, categories
Operations:  insert, update, replace, delete

Example:
  blogcore emit posts update 665f1c2e9b1d --slug hello-world
  blogcore emit notes insert 665f1c2e9b1e --nid 42
  blogcore emit categories update`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := buildEvent(args, opts)
			if err != nil {
				return err
			}
			return runEmit(cmd, opts, ev)
		},
	}

	cmd.Flags().StringVar(&opts.Slug, "slug", "", "document slug")
	cmd.Flags().IntVar(&opts.NID, "nid", 0, "note number")

	return cmd
}

func buildEvent(args []string, opts *EmitOptions) (changefeed.Event, error) {
	op, err := changefeed.ParseOperation(args[1])
	if err != nil {
		return changefeed.Event{}, err
	}
	ev := changefeed.Event{
		Collection: args[0],
		Operation:  op,
		Slug:       opts.Slug,
		NID:        opts.NID,
	}
	if len(args) == 3 {
		ev.DocumentID = args[2]
	}
	if err := ev.Validate(); err != nil {
		return changefeed.Event{}, err
	}
	if ev.DocumentID == "" && ev.Collection != changefeed.CollectionCategories && ev.Collection != changefeed.CollectionPages {
		return changefeed.Event{}, fmt.Errorf("emit: %s events need a document id", ev.Collection)
	}
	return ev, nil
}

func runEmit(cmd *cobra.Command, opts *EmitOptions, ev changefeed.Event) error {
	cfg, _, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("emit: AMQP_URL is not set")
	}

	publisher := changefeed.NewAMQPPublisher(cfg.AMQPURL, cfg.ChangeExchange)
	if err := publisher.Publish(cmd.Context(), ev); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", ev)
	return nil
}
