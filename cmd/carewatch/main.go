package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "carewatch",
	Short: "Care monitoring for one person: risk checks, reminders and guidance",
	Long: `carewatch watches weather and wearable readings for the person it cares for,
turns them into a risk level, and acts on it: a fixed reminder plan for high
risk, generated guidance for medium risk, and a short template message
otherwise. Reminders are kept in SQLite and mirrored to peers over MQTT.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the carewatch version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("carewatch %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(remindersCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
