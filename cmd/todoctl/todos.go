package main

import (
	"github.com/spf13/cobra"

	"todoapp.io/internal/todo"
)

var (
	todoDescription string
	todoDueDate     string
)

var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "List or add the caller's to-do items (needs --token)",
}

var todosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List to-do items",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		items, err := c.ListTodos(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, items)
	},
}

var todosAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a to-do item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		item, err := c.CreateTodo(cmd.Context(), todo.Draft{
			Title:       args[0],
			Description: todoDescription,
			DueDate:     todoDueDate,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, item)
	},
}

func init() {
	todosAddCmd.Flags().StringVar(&todoDescription, "description", "", "Longer description")
	todosAddCmd.Flags().StringVar(&todoDueDate, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	todosCmd.AddCommand(todosListCmd, todosAddCmd)
	rootCmd.AddCommand(todosCmd)
}
