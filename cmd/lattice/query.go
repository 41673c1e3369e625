package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/engine"
	"github.com/syssam/lattice/filter"
)

var (
	flagWhere string
	flagOrder string
	flagTake  int
	flagSkip  int
)

func init() {
	listCmd.Flags().StringVar(&flagWhere, "where", "", "where input as JSON")
	listCmd.Flags().StringVar(&flagOrder, "order", "", `order input as JSON, e.g. [{"title":"asc"}]`)
	listCmd.Flags().IntVar(&flagTake, "take", 0, "maximum records to return")
	listCmd.Flags().IntVar(&flagSkip, "skip", 0, "records to skip")
	countCmd.Flags().StringVar(&flagWhere, "where", "", "where input as JSON")
}

var getCmd = &cobra.Command{
	Use:   "get <entity> <id>",
	Short: "Fetch one record by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		item, err := eng.FindOne(ctx, rc, args[0], engine.UniqueWhere{"id": args[1]})
		if err != nil {
			return err
		}
		if item == nil {
			fmt.Println("null")
			return nil
		}
		return printJSON(item)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <entity>",
	Short: "List records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := filter.ParseJSON([]byte(flagWhere))
		if err != nil {
			return err
		}
		orderBy, err := parseOrder(flagOrder)
		if err != nil {
			return err
		}
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		items, err := eng.FindMany(ctx, rc, args[0], engine.FindManyArgs{
			Where:   where,
			Take:    flagTake,
			Skip:    flagSkip,
			OrderBy: orderBy,
		})
		if err != nil {
			return err
		}
		if items == nil {
			items = []lattice.Item{}
		}
		return printJSON(items)
	},
}

var countCmd = &cobra.Command{
	Use:   "count <entity>",
	Short: "Count records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := filter.ParseJSON([]byte(flagWhere))
		if err != nil {
			return err
		}
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		n, err := eng.Count(ctx, rc, args[0], where)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func parseOrder(s string) (engine.OrderBy, error) {
	if s == "" {
		return nil, nil
	}
	var orderBy engine.OrderBy
	if err := json.Unmarshal([]byte(s), &orderBy); err != nil {
		return nil, fmt.Errorf("invalid order input: %w", err)
	}
	return orderBy, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
