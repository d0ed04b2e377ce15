package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/blogcore/internal/revalidate"
)

// RevalidateOptions holds flags for the revalidate command.
type RevalidateOptions struct {
	*RootOptions
	Tag  string
	Path string
}

// NewRevalidateCommand creates the revalidate command.
func NewRevalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevalidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revalidate",
		Short: "Send one signed revalidation request to the frontend",
		Long: `Send one signed revalidation request to the frontend, the same request
the change feed sends when content changes.

Example:
  blogcore revalidate --tag posts
  blogcore revalidate --path /posts/hello-world`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevalidate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Tag, "tag", "", "cache tag to revalidate")
	cmd.Flags().StringVar(&opts.Path, "path", "", "route path to revalidate")
	cmd.MarkFlagsMutuallyExclusive("tag", "path")
	cmd.MarkFlagsOneRequired("tag", "path")

	return cmd
}

func runRevalidate(cmd *cobra.Command, opts *RevalidateOptions) error {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cfg.RevalidateURL == "" {
		return errors.New("revalidate: REVALIDATE_URL is not set")
	}

	client := revalidate.NewClient(cfg.RevalidateURL, cfg.RevalidateSecret, cfg.RevalidateSalt, logger)
	if opts.Tag != "" {
		err = client.NotifyTag(cmd.Context(), opts.Tag)
	} else {
		err = client.NotifyPath(cmd.Context(), opts.Path)
	}
	if err != nil {
		return err
	}

	target := "tag " + opts.Tag
	if opts.Path != "" {
		target = "path " + opts.Path
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revalidated %s\n", target)
	return nil
}
