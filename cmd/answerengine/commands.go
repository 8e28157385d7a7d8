package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/answerengine/internal/answer"
	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/intent"
	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/profile"
	"github.com/TobiSchelling/answerengine/internal/validate"
)

// --- import command ---

var importUser string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import post history and onboarding profiles from JSON exports",
}

var importPostsCmd = &cobra.Command{
	Use:   "posts [file.json]",
	Short: "Import posts (a JSON array, or {\"user_id\": ..., \"posts\": [...]})",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		posts, err := readPosts(args[0], importUser)
		if err != nil {
			return err
		}

		svc, err := newServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.db.UpsertPosts(cmd.Context(), posts)
		if err != nil {
			return fmt.Errorf("importing posts: %w", err)
		}

		users := map[string]bool{}
		for _, p := range posts {
			users[p.UserID] = true
		}
		for u := range users {
			if err := svc.invalidate(cmd.Context(), u); err != nil {
				logger.WithError(err).WithField("user_id", u).Warn("Failed to invalidate cached baselines")
			}
		}

		fmt.Printf("Imported %d posts for %d creator(s).\n", n, len(users))
		return nil
	},
}

var importProfileCmd = &cobra.Command{
	Use:   "profile [file.json]",
	Short: "Import onboarding answers as a creator profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var in struct {
			UserID string `json:"user_id"`
			profile.Onboarding
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		if importUser != "" {
			in.UserID = importUser
		}
		if in.UserID == "" {
			return fmt.Errorf("%s has no user_id; pass --user", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		signals := profile.Build(in.Onboarding)
		if err := db.UpsertProfile(cmd.Context(), in.UserID, signals); err != nil {
			return fmt.Errorf("importing profile: %w", err)
		}
		fmt.Printf("Imported profile for %s (niches: %s, goal: %s).\n",
			in.UserID, strings.Join(signals.Niches, ", "), orDash(string(signals.Goal)))
		return nil
	},
}

func init() {
	importCmd.PersistentFlags().StringVarP(&importUser, "user", "u", "", "Creator id to assign (overrides the file)")
	importCmd.AddCommand(importPostsCmd)
	importCmd.AddCommand(importProfileCmd)
}

// readPosts accepts either a bare array or an object with user_id and posts.
// Formats are canonicalized so "Reels" and "video" land as "reel".
func readPosts(path, user string) ([]model.CandidatePost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var posts []model.CandidatePost
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else {
		var export struct {
			UserID string                `json:"user_id"`
			Posts  []model.CandidatePost `json:"posts"`
		}
		if err := json.Unmarshal(data, &export); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		posts = export.Posts
		if user == "" {
			user = export.UserID
		}
	}

	for i := range posts {
		if user != "" {
			posts[i].UserID = user
		}
		if posts[i].UserID == "" {
			return nil, fmt.Errorf("post %d (%s) has no user_id; pass --user", i, posts[i].ID)
		}
		if posts[i].ID == "" {
			return nil, fmt.Errorf("post %d has no id", i)
		}
		for j, f := range posts[i].Formats {
			posts[i].Formats[j] = profile.CanonicalFormat(f)
		}
	}
	return posts, nil
}

// --- baselines command ---

var baselineWindow int

var baselinesCmd = &cobra.Command{
	Use:   "baselines [user-id]",
	Short: "Compute and print a creator's baseline snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		window := cfg.Baselines.WindowDays
		if baselineWindow > 0 {
			window = baselineWindow
		}
		b, err := svc.baselines.Compute(cmd.Context(), args[0], window, time.Time{})
		if err != nil {
			return err
		}
		if !b.HasData() {
			fmt.Printf("No posts for %s in the last %d days.\n", args[0], window)
			return nil
		}
		return printJSON(b)
	},
}

func init() {
	baselinesCmd.Flags().IntVarP(&baselineWindow, "window", "w", 0, "Window in days (default from config)")
}

// --- ask command ---

var (
	askFollowers int
	askDryRun    bool
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [user-id] [question...]",
	Short: "Answer a question from the creator's own history",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		req := answer.Request{
			UserID: args[0],
			Query:  strings.Join(args[1:], " "),
			DryRun: askDryRun,
		}
		if cmd.Flags().Changed("followers") {
			req.Followers = &askFollowers
		}

		res, err := svc.engine.Answer(cmd.Context(), req)
		if err != nil {
			return err
		}
		if askJSON {
			return printJSON(res)
		}

		for i, step := range res.Steps {
			fmt.Printf("Step %d/%d: %s\n", i+1, len(res.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if askDryRun {
			fmt.Println("\nContext pack:")
			return printJSON(res.Pack)
		}

		fmt.Printf("\n%s\n\n", res.Text)
		fmt.Printf("Score: %d", res.Validation.Score)
		if res.UsedFallback {
			fmt.Printf(" (fallback: %s)", res.FallbackReason)
		}
		fmt.Println()
		if len(res.Validation.Issues) > 0 {
			fmt.Printf("Issues: %s\n", strings.Join(res.Validation.Issues, ", "))
		}
		fmt.Printf("Run: %s\n", res.ID)
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&askFollowers, "followers", 0, "Follower count (overrides the stored profile)")
	askCmd.Flags().BoolVar(&askDryRun, "dry-run", false, "Assemble the context pack without generating")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full result as JSON")
}

// --- validate command ---

var (
	validatePack   string
	validateAnswer string
	validateAnchor string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an existing answer against its context pack",
	RunE: func(cmd *cobra.Command, args []string) error {
		packData, err := os.ReadFile(validatePack)
		if err != nil {
			return fmt.Errorf("reading pack: %w", err)
		}
		pack, err := contextpack.Parse(packData)
		if err != nil {
			return err
		}
		text, err := os.ReadFile(validateAnswer)
		if err != nil {
			return fmt.Errorf("reading answer: %w", err)
		}

		report := validate.Check(string(text), pack, intent.Focus{Anchor: validateAnchor})
		if report.Sanitized.RemovedLines > 0 {
			fmt.Printf("Removed %d line(s) citing links outside the pack.\n", report.Sanitized.RemovedLines)
		}
		if report.Validation == nil {
			return fmt.Errorf("nothing usable remained; the fallback message applies")
		}
		fmt.Printf("Score: %d\n", report.Validation.Score)
		for _, issue := range report.Validation.Issues {
			fmt.Printf("  - %s\n", issue)
		}
		if !report.Validation.Passed {
			return fmt.Errorf("answer failed validation")
		}
		fmt.Println("Answer passed validation.")
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validatePack, "pack", "", "Context pack JSON file")
	validateCmd.Flags().StringVar(&validateAnswer, "answer", "", "Answer markdown file")
	validateCmd.Flags().StringVar(&validateAnchor, "anchor", "", "Anchor phrase (default derived from the pack query)")
	_ = validateCmd.MarkFlagRequired("pack")
	_ = validateCmd.MarkFlagRequired("answer")
}

// --- runs command ---

var (
	runsLimit int
	runsUser  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent answer runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListAnswerRuns(cmd.Context(), runsUser, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No answers yet. Ask one with: answerengine ask <user-id> <question>")
			return nil
		}

		for _, r := range runs {
			status := "passed"
			switch {
			case r.UsedFallback:
				status = "fallback"
			case !r.Passed:
				status = "failed"
			}
			fmt.Printf("%s  %s  %-8s %3d  %s  %s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04"), r.ID[:min(8, len(r.ID))], status, r.Score, r.UserID, r.Query)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsCmd.Flags().StringVarP(&runsUser, "user", "u", "", "Only show runs for this creator")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
