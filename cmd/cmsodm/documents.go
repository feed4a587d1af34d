package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/artpar/cmsodm/bootstrap"
	"github.com/artpar/cmsodm/core/events"
	"github.com/artpar/cmsodm/core/model"
	"github.com/artpar/cmsodm/ports"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find <collection> [filter]",
	Short: "Find documents",
	Long: `Find documents matching a filter given as extended JSON.

Examples:
  cmsodm find posts
  cmsodm find posts '{"public": true}' --sort -createdOn --limit 10
  cmsodm find posts '{"author": {"$oid": "65a0f0c2e4b0a1b2c3d4e5f6"}}' --expand
  cmsodm find users --fields username,email --verbose`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFind,
}

var createCmd = &cobra.Command{
	Use:   "create <collection> <document>",
	Short: "Create a document",
	Long: `Create a document from extended JSON. Required items must be present.

Example:
  cmsodm create users '{"username": "alice", "email": "alice@example.com", "password": "s3cret!"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runCreate,
}

var updateCmd = &cobra.Command{
	Use:   "update <collection> <filter> <changes>",
	Short: "Update matching documents",
	Long: `Apply changes to every document matching filter. Each document is
validated on its own; failures are reported per document.

Example:
  cmsodm update posts '{"slug": "hello"}' '{"title": "Hello, world"}'`,
	Args: cobra.ExactArgs(3),
	RunE: runUpdate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <filter>",
	Short: "Delete matching documents and their dependents",
	Long: `Delete every document matching filter. Documents that require a deleted
document are deleted too, optional references are cleared and array
references are removed.

Example:
  cmsodm delete users '{"username": "alice"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runDelete,
}

var (
	findSort    []string
	findSkip    int64
	findLimit   int64
	findFields  []string
	findExpand  bool
	findDepth   int
	findVerbose bool
	findCount   bool

	deleteAll bool
)

func init() {
	rootCmd.AddCommand(findCmd, createCmd, updateCmd, deleteCmd)

	findCmd.Flags().StringSliceVar(&findSort, "sort", nil, "sort fields, prefix with - for descending")
	findCmd.Flags().Int64Var(&findSkip, "skip", 0, "number of documents to skip")
	findCmd.Flags().Int64Var(&findLimit, "limit", 0, "maximum number of documents (0 for all)")
	findCmd.Flags().StringSliceVar(&findFields, "fields", nil, "only load these items")
	findCmd.Flags().BoolVar(&findExpand, "expand", false, "replace references with the referenced documents")
	findCmd.Flags().IntVar(&findDepth, "depth", 0, "expansion depth (default from config)")
	findCmd.Flags().BoolVar(&findVerbose, "verbose", false, "include sensitive items")
	findCmd.Flags().BoolVar(&findCount, "count", false, "print the number of matches only")

	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "allow an empty filter")
}

// withModel opens a session and runs fn with the named model.
func withModel(cmd *cobra.Command, name string, fn func(ctx context.Context, s *session, m *model.Model) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	m, err := s.factory.Get(name)
	if err != nil {
		return err
	}
	return fn(ctx, s, m)
}

func runFind(cmd *cobra.Command, args []string) error {
	filter := ports.Filter{}
	if len(args) == 2 {
		var err error
		if filter, err = parseDocument(args[1]); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}

	return withModel(cmd, args[0], func(ctx context.Context, s *session, m *model.Model) error {
		out := cmd.OutOrStdout()
		if findCount {
			n, err := m.Count(ctx, filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, n)
			return nil
		}

		instances, err := m.FindInstances(ctx, filter, ports.FindOptions{
			Sort:       parseSort(findSort),
			Skip:       findSkip,
			Limit:      findLimit,
			Projection: findFields,
		})
		if err != nil {
			return err
		}

		opts := s.factory.JSONOptions()
		opts.Verbose = findVerbose
		if findExpand {
			opts.ExpandForeignKeys = true
		}
		if findDepth > 0 {
			opts.ExpandMaxDepth = findDepth
		}
		for _, inst := range instances {
			doc, err := inst.JSON(ctx, opts)
			if err != nil {
				return err
			}
			// Items outside the projection only hold template defaults.
			if err := writeDocument(out, projectFields(doc, findFields)); err != nil {
				return err
			}
		}
		return nil
	})
}

func runCreate(cmd *cobra.Command, args []string) error {
	data, err := parseDocument(args[1])
	if err != nil {
		return fmt.Errorf("document: %w", err)
	}

	return withModel(cmd, args[0], func(ctx context.Context, s *session, m *model.Model) error {
		inst, err := m.CreateInstance(ctx, data)
		if err != nil {
			return err
		}
		doc, err := inst.JSON(ctx, s.factory.JSONOptions())
		if err != nil {
			return err
		}
		return writeDocument(cmd.OutOrStdout(), doc)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	filter, err := parseDocument(args[1])
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	changes, err := parseDocument(args[2])
	if err != nil {
		return fmt.Errorf("changes: %w", err)
	}

	return withModel(cmd, args[0], func(ctx context.Context, s *session, m *model.Model) error {
		result, err := m.Update(ctx, filter, changes)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, token := range result.Tokens {
			id := token.Instance.ID.Hex()
			if token.Err != nil {
				fmt.Fprintf(out, "  %s %s: %v\n", crossMark(), id, token.Err)
			} else {
				fmt.Fprintf(out, "  %s %s\n", checkMark(), id)
			}
		}
		fmt.Fprintf(out, "\nUpdated %d of %d documents.\n", len(result.Updated()), len(result.Tokens))
		if result.Error {
			return fmt.Errorf("some documents were not updated")
		}
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	filter, err := parseDocument(args[1])
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if len(filter) == 0 && !deleteAll {
		return fmt.Errorf("refusing to delete with an empty filter (use --all)")
	}

	return withModel(cmd, args[0], func(ctx context.Context, s *session, m *model.Model) error {
		tally := bootstrap.NewTally(s.factory.Events(), events.ActionDeleted)

		n, err := m.DeleteInstances(ctx, filter)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Deleted %d %s\n", checkMark(), n, m.Name())
		var cascaded []string
		for _, name := range tally.Collections() {
			c := tally.Count(name)
			if name == m.Name() {
				c -= n
			}
			if c > 0 {
				cascaded = append(cascaded, fmt.Sprintf("%d %s", c, name))
			}
		}
		if len(cascaded) > 0 {
			fmt.Fprintf(out, "%s Cascaded: %s\n", warnMark(), strings.Join(cascaded, ", "))
		}
		return nil
	})
}

// writeDocument prints doc as relaxed extended JSON.
func writeDocument(w io.Writer, doc map[string]any) error {
	data, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
