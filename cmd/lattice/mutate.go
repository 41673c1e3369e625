package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/engine"
)

var createCmd = &cobra.Command{
	Use:   "create <entity> <data-json>",
	Short: "Create a record",
	Long:  `Create a record from a JSON object, e.g. '{"title": "Hello", "author": "alice"}'.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args[1])
		if err != nil {
			return err
		}
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		item, err := eng.CreateOne(ctx, rc, args[0], data)
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <entity> <id> <data-json>",
	Short: "Update a record by id",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args[2])
		if err != nil {
			return err
		}
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		item, err := eng.UpdateOne(ctx, rc, args[0], engine.UniqueWhere{"id": args[1]}, data)
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <entity> <id>",
	Short: "Delete a record by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := requestContext()
		ctx := commandContext(cmd, rc)
		item, err := eng.DeleteOne(ctx, rc, args[0], engine.UniqueWhere{"id": args[1]})
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

func parseData(s string) (lattice.Item, error) {
	var data lattice.Item
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("invalid data json: %w", err)
	}
	return data, nil
}
