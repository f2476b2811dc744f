package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tapesafe/internal/app"
	"tapesafe/internal/config"
	"tapesafe/internal/core"
	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "backup", "verify").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return pass, nil
}

// promptNewPassphrase asks for a passphrase twice and verifies both match.
func promptNewPassphrase(prompt string) ([]byte, error) {
	first, err := promptPassphrase(prompt)
	if err != nil {
		return nil, err
	}
	second, err := promptPassphrase("Repeat: ")
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

// unlockKey produces the tape key for an encrypted tape, or nil for a plain
// one. RSA tapes use the private key file; passphrase tapes prompt for the
// passphrase. keyPath overrides the default private key location,
// keyProtected prompts for the private key file's own passphrase.
func unlockKey(a *app.App, tapeID, keyPath string, keyProtected bool) ([]byte, error) {
	tape, err := a.Service().GetTape(tapeID)
	if err != nil {
		return nil, err
	}
	if !tape.Encrypted {
		return nil, nil
	}

	method, err := a.Service().KeyMethod(tapeID)
	if err != nil {
		return nil, err
	}

	switch method {
	case core.KeyMethodRSA:
		var keyPass []byte
		if keyProtected {
			keyPass, err = promptPassphrase("Private key passphrase: ")
			if err != nil {
				return nil, err
			}
		}
		return a.UnlockWithPrivateKey(tapeID, keyPath, keyPass)
	case core.KeyMethodPassphrase:
		pass, err := promptPassphrase("Tape passphrase: ")
		if err != nil {
			return nil, err
		}
		return a.UnlockWithPassphrase(tapeID, pass)
	default:
		return nil, fmt.Errorf("tape %s is marked encrypted but has no key material", tapeID)
	}
}

func addUnlockFlags(cmd *cobra.Command) {
	cmd.Flags().String("private-key", "", "Path to the RSA private key (default: <keys_dir>/<tape>/private.pem)")
	cmd.Flags().Bool("key-protected", false, "Prompt for the private key file's passphrase")
}

func unlockFromFlags(a *app.App, tapeID string, cmd *cobra.Command) ([]byte, error) {
	keyPath, _ := cmd.Flags().GetString("private-key")
	keyProtected, _ := cmd.Flags().GetBool("key-protected")
	return unlockKey(a, tapeID, keyPath, keyProtected)
}

var rootCmd = &cobra.Command{
	Use:   "tapesafe",
	Short: "Archival backup to tape-style media",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Keys Dir:  %s\n", cfg.KeysDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Medium:    %s\n", cfg.Medium.Type)
		return nil
	},
}

// tape command
var tapeCmd = &cobra.Command{
	Use:   "tape",
	Short: "Manage tapes",
}

var tapeAddCmd = &cobra.Command{
	Use:   "add TAPE_ID",
	Short: "Register a new tape",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tapeID := args[0]
		generation, _ := cmd.Flags().GetString("generation")
		description, _ := cmd.Flags().GetString("description")
		encrypt, _ := cmd.Flags().GetString("encrypt")
		protectKey, _ := cmd.Flags().GetBool("protect-key")

		a, err := newApp("tape-add")
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Config().KnownGeneration(generation) {
			return fmt.Errorf("unknown generation %q", generation)
		}

		tape := &model.Tape{
			ID:          tapeID,
			Generation:  generation,
			Encrypted:   encrypt != "none",
			Description: description,
		}
		if err := a.Service().RegisterTape(tape); err != nil {
			return err
		}
		fmt.Printf("Registered tape %s (%s, %d GB)\n",
			tapeID, generation, a.Config().GenerationCapacity(generation)/1_000_000_000)

		switch encrypt {
		case "none":
		case "passphrase":
			pass, err := promptNewPassphrase("Tape passphrase: ")
			if err != nil {
				return err
			}
			if _, err := a.SetupPassphraseEncryption(tapeID, pass); err != nil {
				return fmt.Errorf("configuring passphrase encryption: %w", err)
			}
			fmt.Println("Passphrase encryption configured.")
		case "rsa":
			var keyPass []byte
			if protectKey {
				keyPass, err = promptNewPassphrase("Private key passphrase: ")
				if err != nil {
					return err
				}
			}
			if _, err := a.SetupRSAEncryption(tapeID, keyPass); err != nil {
				return fmt.Errorf("configuring RSA encryption: %w", err)
			}
			fmt.Printf("RSA encryption configured; key pair written under %s.\n", a.Config().KeysDir)
			fmt.Println("Back up the private key somewhere safe: without it the tape is unreadable.")
		default:
			return fmt.Errorf("unknown encryption method %q (none, passphrase, rsa)", encrypt)
		}
		return nil
	},
}

var tapeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tapes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("tape-list")
		if err != nil {
			return err
		}
		defer a.Close()

		tapes, err := a.Service().ListTapes()
		if err != nil {
			return err
		}
		if len(tapes) == 0 {
			fmt.Println("No tapes registered.")
			return nil
		}

		for _, t := range tapes {
			enc := " "
			if t.Encrypted {
				enc = "E"
			}
			capacity := a.Config().GenerationCapacity(t.Generation)
			fmt.Printf("%s %-12s %-4s %6.1f/%.1f GB  %s\n",
				enc, t.ID, t.Generation,
				float64(t.UsedCapacity)/1e9, float64(capacity)/1e9,
				t.Description)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup TAPE_ID PATH...",
	Short: "Archive paths onto a tape",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		incremental, _ := cmd.Flags().GetBool("incremental")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		tapeID := args[0]
		key, err := unlockFromFlags(a, tapeID, cmd)
		if err != nil {
			return err
		}

		req := core.BackupRequest{
			TapeID:      tapeID,
			Paths:       args[1:],
			Key:         key,
			Incremental: incremental,
		}
		if !yes {
			req.Confirm = func(stats core.DiffStats) bool {
				fmt.Printf("Changes since last backup: %d new, %d modified, %d unchanged.\n",
					stats.New, stats.Modified, stats.Unchanged)
				fmt.Print("Proceed? [y/N] ")
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				return strings.EqualFold(strings.TrimSpace(line), "y")
			}
		}

		result, err := a.Service().RunBackup(req)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrNothingToDo):
				fmt.Println("Nothing to back up.")
				return nil
			case errors.Is(err, core.ErrCancelled):
				fmt.Println("Backup cancelled.")
				return nil
			}
			var capErr *core.CapacityError
			if errors.As(err, &capErr) {
				return fmt.Errorf("%v: free up %.1f GB or use another tape",
					capErr, float64(capErr.Shortfall())/1e9)
			}
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Job #%d (%s): %d entries, %.1f MB written\n",
			result.JobID, result.BackupType, result.Entries, float64(result.Size)/1e6)
		return nil
	},
}

// restore command
var restoreContentCmd = &cobra.Command{
	Use:   "restore TAPE_ID JOB_ID OUT_DIR",
	Short: "Restore a backup job into a directory",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[1])
		}

		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		tapeID := args[0]
		key, err := unlockFromFlags(a, tapeID, cmd)
		if err != nil {
			return err
		}

		result, err := a.Service().RunRestore(core.RestoreRequest{
			TapeID: tapeID,
			JobID:  jobID,
			OutDir: args[2],
			Key:    key,
		})
		if err != nil {
			if errors.Is(err, crypto.ErrIntegrity) {
				return fmt.Errorf("restore aborted: %w", err)
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored %d file(s), %.1f MB\n", result.Files, float64(result.Bytes)/1e6)
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify TAPE_ID",
	Short: "Verify the integrity of every backup on a tape",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noKey, _ := cmd.Flags().GetBool("no-key")

		a, err := newApp("verify")
		if err != nil {
			return err
		}
		defer a.Close()

		tapeID := args[0]
		var key []byte
		if !noKey {
			key, err = unlockFromFlags(a, tapeID, cmd)
			if err != nil {
				return err
			}
		}

		result, err := a.Service().RunVerify(tapeID, key)
		if err != nil {
			if errors.Is(err, core.ErrNothingToDo) {
				fmt.Println("No backup jobs to verify.")
				return nil
			}
			return fmt.Errorf("verify failed: %w", err)
		}

		for _, jv := range result.Jobs {
			detail := ""
			if jv.Detail != "" {
				detail = "  (" + jv.Detail + ")"
			}
			fmt.Printf("job #%d  %s%s\n", jv.JobID, jv.Verdict, detail)
		}
		fmt.Printf("Overall: %s\n", result.Overall)
		if result.Overall == model.StatusFailed {
			return fmt.Errorf("corruption detected on tape %s", tapeID)
		}
		return nil
	},
}

// recover command
var recoverCmd = &cobra.Command{
	Use:   "recover TAPE_ID",
	Short: "Rebuild the index for a tape from its manifests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("recover")
		if err != nil {
			return err
		}
		defer a.Close()

		tapeID := args[0]
		tape, err := a.Service().GetTape(tapeID)
		if err != nil {
			return err
		}
		if tape == nil {
			// After index loss the tape row itself is gone; re-register
			// it before replaying the manifests.
			generation, _ := cmd.Flags().GetString("generation")
			description, _ := cmd.Flags().GetString("description")
			if !a.Config().KnownGeneration(generation) {
				return fmt.Errorf("unknown tape generation %q", generation)
			}
			err := a.Service().RegisterTape(&model.Tape{
				ID:          tapeID,
				Generation:  generation,
				CreatedAt:   time.Now().UTC(),
				Description: description,
			})
			if err != nil {
				return fmt.Errorf("re-registering tape: %w", err)
			}
			fmt.Printf("Re-registered tape %s (%s)\n", tapeID, generation)
		}

		result, err := a.Service().RunRecovery(tapeID)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}

		fmt.Printf("Manifests found:  %d\n", result.ManifestsFound)
		fmt.Printf("Jobs recovered:   %d\n", result.JobsRecovered)
		fmt.Printf("Nodes recovered:  %d\n", result.NodesRecovered)
		fmt.Printf("Skipped:          %d\n", result.Skipped)
		fmt.Printf("Used capacity:    %.1f GB\n", float64(result.UsedCapacity)/1e9)
		return nil
	},
}

// jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs TAPE_ID",
	Short: "View a tape's job history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("jobs")
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.Service().ListJobs(args[0])
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded.")
			return nil
		}

		for _, j := range jobs {
			duration := ""
			if !j.FinishedAt.IsZero() {
				duration = j.FinishedAt.Sub(j.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%-4d %-7s %-12s %s  %-8s %10.1f MB  %s\n",
				j.ID, j.Action, j.BackupType,
				j.StartedAt.Format("2006-01-02 15:04:05"),
				j.Status, float64(j.Size)/1e6, duration)
		}
		return nil
	},
}

// browse command
var browseCmd = &cobra.Command{
	Use:   "browse TAPE_ID",
	Short: "Browse a tape's file index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		locked, _ := cmd.Flags().GetBool("locked")

		a, err := newApp("browse")
		if err != nil {
			return err
		}
		defer a.Close()

		tapeID := args[0]
		var key []byte
		if !locked {
			key, err = unlockFromFlags(a, tapeID, cmd)
			if err != nil {
				return err
			}
		}

		var parentID *int64
		if cmd.Flags().Changed("parent") {
			parentID = &parent
		}

		entries, err := a.Service().BrowseNodes(tapeID, parentID, key)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Empty.")
			return nil
		}

		for _, e := range entries {
			if e.Node.IsDir {
				fmt.Printf("%6d  d %s/\n", e.Node.ID, e.DisplayName)
			} else {
				fmt.Printf("%6d  - %s  (%d bytes, job #%d)\n",
					e.Node.ID, e.DisplayName, e.Node.Size, e.Node.JobID)
			}
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// tape subcommands
	tapeCmd.AddCommand(tapeAddCmd)
	tapeAddCmd.Flags().StringP("generation", "g", "L8", "Tape generation (L5..L10)")
	tapeAddCmd.Flags().StringP("description", "d", "", "Free-form tape description")
	tapeAddCmd.Flags().String("encrypt", "none", "Encryption method: none, passphrase, or rsa")
	tapeAddCmd.Flags().Bool("protect-key", false, "Passphrase-protect the RSA private key file")
	tapeCmd.AddCommand(tapeListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tapeCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolP("incremental", "i", false, "Back up only changes since the last backup")
	backupCmd.Flags().BoolP("yes", "y", false, "Skip the incremental confirmation prompt")
	addUnlockFlags(backupCmd)
	rootCmd.AddCommand(restoreContentCmd)
	addUnlockFlags(restoreContentCmd)
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Bool("no-key", false, "Verify without unlocking (encrypted jobs are skipped)")
	addUnlockFlags(verifyCmd)
	rootCmd.AddCommand(recoverCmd)
	recoverCmd.Flags().StringP("generation", "g", "L8", "Tape generation when re-registering (L5..L10)")
	recoverCmd.Flags().StringP("description", "d", "", "Tape description when re-registering")
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(browseCmd)
	browseCmd.Flags().Int64("parent", 0, "Parent node id to list (root level when omitted)")
	browseCmd.Flags().Bool("locked", false, "Browse without unlocking (obfuscated names show as <locked>)")
	addUnlockFlags(browseCmd)
}
