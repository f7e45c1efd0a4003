package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inward-app/inward/internal/config"
)

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	tags := strings.Split(s, ",")
	for i := range tags {
		tags[i] = strings.TrimSpace(tags[i])
	}
	return tags
}

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Score the protocol catalog against a user's current state",
	Long: `Score the protocol catalog against a user's current state.

Examples:
  inward recommend --user alice --emotions anxious,overwhelmed
  inward recommend --user alice --conditions stress --mood-indicators low_energy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		emotions, _ := cmd.Flags().GetString("emotions")
		conditions, _ := cmd.Flags().GetString("conditions")
		moods, _ := cmd.Flags().GetString("mood-indicators")

		if user == "" {
			return fmt.Errorf("--user is required")
		}

		req := map[string]any{
			"user_id": user,
			"context": map[string]any{
				"emotions":        splitTags(emotions),
				"conditions":      splitTags(conditions),
				"mood_indicators": splitTags(moods),
			},
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/recommendations", req)
		if err != nil {
			return err
		}

		var result struct {
			Recommendations []struct {
				Name       string  `json:"name"`
				Category   string  `json:"category"`
				Confidence float64 `json:"confidence"`
				Reason     string  `json:"reason"`
			} `json:"recommendations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Recommendations) == 0 {
			printWarning("No protocols cleared the confidence threshold")
			return nil
		}
		for i, rec := range result.Recommendations {
			fmt.Fprintf(os.Stdout, "%d. %s (%s) — %.2f\n   %s\n", i+1, rec.Name, rec.Category, rec.Confidence, rec.Reason)
		}
		return nil
	},
}

func init() {
	recommendCmd.Flags().String("user", "", "user id to score for")
	recommendCmd.Flags().String("emotions", "", "comma-separated emotion tags")
	recommendCmd.Flags().String("conditions", "", "comma-separated condition tags")
	recommendCmd.Flags().String("mood-indicators", "", "comma-separated mood-indicator tags")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a user's reaction to a presented intervention",
	Long: `Record a user's reaction to a presented intervention.

Examples:
  inward feedback --user alice --type breathwork --satisfaction 5
  inward feedback --user alice --type journaling --satisfaction 2 --notes "felt forced"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		interventionType, _ := cmd.Flags().GetString("type")
		satisfaction, _ := cmd.Flags().GetInt("satisfaction")
		notes, _ := cmd.Flags().GetString("notes")

		if user == "" || interventionType == "" {
			return fmt.Errorf("--user and --type are required")
		}

		req := map[string]any{
			"user_id":           user,
			"intervention_type": interventionType,
			"satisfaction":      satisfaction,
			"notes":             notes,
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/feedback", req)
		if err != nil {
			return err
		}

		var updated struct {
			TotalInteractions  int     `json:"total_interactions"`
			LearningConfidence float64 `json:"learning_confidence"`
		}
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Recorded feedback (%d interactions, learning confidence %.2f)",
			updated.TotalInteractions, updated.LearningConfidence)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("user", "", "user id the feedback belongs to")
	feedbackCmd.Flags().String("type", "", "intervention type (protocol category)")
	feedbackCmd.Flags().Int("satisfaction", 0, "satisfaction rating 1-5")
	feedbackCmd.Flags().String("notes", "", "optional free-text notes")
}

// --- adjustments ---

var adjustmentsCmd = &cobra.Command{
	Use:   "adjustments",
	Short: "Show the merged coaching adjustments for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/users/"+user+"/adjustments")
		if err != nil {
			return err
		}

		var result map[string]json.RawMessage
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		pretty, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(pretty))
		return nil
	},
}

func init() {
	adjustmentsCmd.Flags().String("user", "", "user id to resolve adjustments for")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect learning profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's learning profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/users/"+user+"/profile")
		if err != nil {
			return err
		}

		var result json.RawMessage
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		var pretty struct {
			UserID                     string             `json:"user_id"`
			EffectiveInterventionTypes []string           `json:"effective_intervention_types"`
			ProtocolSuccessRates       map[string]float64 `json:"protocol_success_rates"`
			TotalInteractions          int                `json:"total_interactions"`
			SuccessfulInterventions    int                `json:"successful_interventions"`
			LearningConfidence         float64            `json:"learning_confidence"`
		}
		if err := json.Unmarshal(result, &pretty); err != nil {
			return err
		}

		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

var profileHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recent coaching-effectiveness records",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/users/%s/effectiveness?limit=%d", user, limit))
		if err != nil {
			return err
		}

		var result struct {
			Records []struct {
				InterventionType string `json:"intervention_type"`
				Satisfaction     int    `json:"satisfaction"`
				Notes            string `json:"notes"`
				CreatedAt        string `json:"created_at"`
			} `json:"records"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Records) == 0 {
			printWarning("No feedback recorded for %s", user)
			return nil
		}
		for _, r := range result.Records {
			fmt.Fprintf(os.Stdout, "%s  %s  %d/5  %s\n", r.CreatedAt, r.InterventionType, r.Satisfaction, r.Notes)
		}
		return nil
	},
}

func init() {
	profileShowCmd.Flags().String("user", "", "user id")
	profileHistoryCmd.Flags().String("user", "", "user id")
	profileHistoryCmd.Flags().Int("limit", 20, "number of records to show")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileHistoryCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the protocol and rule catalogs",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog protocols and adaptive rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/catalog/protocols")
		if err != nil {
			return err
		}
		var protos struct {
			Protocols []struct {
				Name     string `json:"name"`
				Category string `json:"category"`
			} `json:"protocols"`
		}
		if err := decodeJSON(resp, &protos); err != nil {
			return err
		}

		resp, err = client.get(cmd.Context(), "/v1/catalog/rules")
		if err != nil {
			return err
		}
		var rules struct {
			Rules []struct {
				Name     string `json:"name"`
				Priority int    `json:"priority"`
			} `json:"rules"`
		}
		if err := decodeJSON(resp, &rules); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Protocols (%d):\n", len(protos.Protocols))
		for _, p := range protos.Protocols {
			fmt.Fprintf(os.Stdout, "  %s (%s)\n", p.Name, p.Category)
		}
		fmt.Fprintf(os.Stdout, "Rules (%d):\n", len(rules.Rules))
		for _, r := range rules.Rules {
			fmt.Fprintf(os.Stdout, "  [%d] %s\n", r.Priority, r.Name)
		}
		return nil
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading catalog file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postYAML(cmd.Context(), "/v1/catalog/import", data)
		if err != nil {
			return err
		}

		var result struct {
			Protocols int `json:"protocols"`
			Rules     int `json:"rules"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d protocols and %d rules", result.Protocols, result.Rules)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or set configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-28s %-24s %s\n", k.Key, k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
