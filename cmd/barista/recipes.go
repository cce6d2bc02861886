package main

import (
	"fmt"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"barista/internal/models"
	"barista/internal/recipes"
)

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Inspect recipe files",
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the recipes of the configured recipes file",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, errs := recipes.ParseFile(cfg.RecipesFile)
		printRecipes(cmd, list)
		for _, err := range errs {
			cmd.PrintErrln("skipped:", err)
		}
		return nil
	},
}

var recipesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a recipes file and report every invalid recipe",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.RecipesFile
		if len(args) == 1 {
			path = args[0]
		}
		list, errs := recipes.ParseFile(path)
		printRecipes(cmd, list)
		for _, err := range errs {
			cmd.PrintErrln("invalid:", err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s: %d invalid recipe(s)", path, len(errs))
		}
		cmd.Printf("%s: %d recipe(s) OK\n", path, len(list))
		return nil
	},
}

func init() {
	recipesCmd.AddCommand(recipesListCmd, recipesValidateCmd)
	rootCmd.AddCommand(recipesCmd)
}

func printRecipes(cmd *cobra.Command, list []models.Recipe) {
	if len(list) == 0 {
		return
	}
	out := []string{"Key|Name|Steps|Summary"}
	for _, recipe := range list {
		out = append(out, fmt.Sprintf("%s|%s|%d|%s", recipe.Key, recipe.Name, len(recipe.Steps), recipes.Summary(recipe)))
	}
	cmd.Println(columnize.SimpleFormat(out))
}
