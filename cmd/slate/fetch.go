package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/slatedl/slate/internal/batch"
	"github.com/slatedl/slate/internal/config"
	"github.com/slatedl/slate/internal/convert"
	"github.com/slatedl/slate/internal/home"
	"github.com/slatedl/slate/internal/names"
	"github.com/slatedl/slate/internal/picker"
	"github.com/slatedl/slate/internal/portal"
	"github.com/slatedl/slate/internal/runlog"
)

var (
	fetchCourse       string
	fetchPattern      string
	fetchUnits        []int
	fetchClasses      []int
	fetchNoMerge      bool
	fetchMaxWorkers   int
	fetchInteractive  bool
	fetchKeepRepaired bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download course material into the local course tree",
	Long: `Fetch downloads all material for one or more courses: every class of
every unit, converted to PDF where needed, merged per unit, plus the
combined exam-prep PDF.

Course selection, in order of precedence:
  --course   exact course id or subject code
  --pattern  regular expression over subject codes and names, downloads
             every match
  otherwise  interactive fzf picker

Credentials come from SLATE_USERNAME and SLATE_PASSWORD (a .env file in
the working directory is honored), from the config file, or a prompt.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchCourse, "course", "", "course id, subject code, or unambiguous course name")
	fetchCmd.Flags().StringVar(&fetchPattern, "pattern", "", "regex over subject codes and names, fetches all matches")
	fetchCmd.Flags().IntSliceVar(&fetchUnits, "units", nil, "unit numbers to fetch (default all)")
	fetchCmd.Flags().IntSliceVar(&fetchClasses, "classes", nil, "class numbers to fetch per unit (default all)")
	fetchCmd.Flags().BoolVar(&fetchNoMerge, "no-merge", false, "skip per-unit and exam-prep PDF merging")
	fetchCmd.Flags().IntVar(&fetchMaxWorkers, "max-workers", 0, "concurrent class downloads per unit")
	fetchCmd.Flags().BoolVarP(&fetchInteractive, "interactive", "i", false, "pick the course with fzf")
	fetchCmd.Flags().BoolVar(&fetchKeepRepaired, "keep-repaired", false, "keep zip-repair artifacts after conversion")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := openHome(cfg)
	if err != nil {
		return err
	}

	client, err := connectPortal(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer client.Logout(context.WithoutCancel(ctx))

	subjects, err := client.Subjects(ctx)
	if err != nil {
		return err
	}
	if err := writeSubjects(dir.SubjectsPath(), subjects); err != nil {
		slog.Warn("failed to cache subject listing", "error", err)
	}

	selected, err := selectSubjects(ctx, cfg, subjects)
	if err != nil {
		return err
	}

	for i, subject := range selected {
		if len(selected) > 1 {
			fmt.Printf("\n[%d/%d] %s\n", i+1, len(selected), subject.SubjectName)
		}
		if err := fetchCourseMaterial(ctx, cfg, dir, client, subject); err != nil {
			if ctx.Err() != nil {
				return err
			}
			slog.Error("course download failed", "course", subject.SubjectName, "error", err)
		}
	}
	return ctx.Err()
}

// fetchCourseMaterial runs the download pipeline for a single course with a
// course-scoped logger that tees errors into the failure log.
func fetchCourseMaterial(ctx context.Context, cfg *config.Config, dir *home.Dir, client *portal.Client, subject portal.Subject) error {
	prefix := names.CoursePrefix(subject.SubjectCode, subject.SubjectName)
	courseDir := dir.CourseDir(subject.ID, prefix)
	if err := os.MkdirAll(courseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create course directory: %w", err)
	}

	logger, logCloser, err := runlog.New(os.Stdout, filepath.Join(courseDir, home.FailureLogName(prefix)))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	converter := convert.NewSoffice(convert.Options{
		SofficePath:  cfg.SofficePath,
		KeepRepaired: fetchKeepRepaired || cfg.KeepRepaired,
		Logger:       logger,
	})

	runner := batch.NewRunner(batch.RunnerOptions{
		Source:         client,
		Converter:      converter,
		Logger:         logger,
		MaxWorkers:     config.ResolveWorkers(fetchMaxWorkers, cfg.MaxWorkers, config.DefaultMaxWorkers, logger),
		ConvertWorkers: config.ResolveWorkers(0, cfg.ConvertWorkers, config.DefaultConvertWorkers, logger),
		SkipMerge:      fetchNoMerge || cfg.SkipMerge,
	})

	summary, err := runner.DownloadCourse(ctx, batch.CourseRequest{
		CourseID:    subject.ID,
		CourseName:  subject.SubjectName,
		Prefix:      prefix,
		Dir:         courseDir,
		UnitFilter:  fetchUnits,
		ClassFilter: fetchClasses,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Complete! Downloaded: %d, Failed: %d\n", summary.TotalDownloaded, summary.TotalFailed)
	fmt.Printf("Location: %s\n", courseDir)
	if summary.TotalFailed > 0 {
		fmt.Printf("Failure log: %s\n", filepath.Join(courseDir, summary.FailureLog))
	}
	return nil
}

// selectSubjects resolves which courses to fetch from the flags, falling
// back to the interactive picker.
func selectSubjects(ctx context.Context, cfg *config.Config, subjects []portal.Subject) ([]portal.Subject, error) {
	switch {
	case fetchInteractive:
		return pickSubject(ctx, cfg, subjects)

	case fetchCourse != "":
		for _, subject := range subjects {
			if subject.ID == fetchCourse || subject.SubjectCode == fetchCourse {
				return []portal.Subject{subject}, nil
			}
		}
		// Not an id or code; fall back to a name match, but only an
		// unambiguous one.
		options := make([]picker.Option, 0, len(subjects))
		for _, subject := range subjects {
			options = append(options, picker.Option{ID: subject.ID, Label: subject.SubjectName})
		}
		matched, err := picker.Match(options, fetchCourse)
		if err != nil || len(matched) != 1 {
			return nil, fmt.Errorf("course %q not found, use a course id or subject code (e.g. 20975 or UE23CS342AA3)", fetchCourse)
		}
		for _, subject := range subjects {
			if subject.ID == matched[0].ID {
				return []portal.Subject{subject}, nil
			}
		}
		return nil, picker.ErrNoMatch

	case fetchPattern != "":
		re, err := regexp.Compile("(?i)" + fetchPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid course pattern: %w", err)
		}
		var matched []portal.Subject
		for _, subject := range subjects {
			if re.MatchString(subject.SubjectCode) || re.MatchString(subject.SubjectName) {
				matched = append(matched, subject)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("no courses match pattern %q", fetchPattern)
		}
		fmt.Printf("Found %d course(s) matching %q\n", len(matched), fetchPattern)
		for _, subject := range matched {
			fmt.Printf("  - %s\n", subject.SubjectName)
		}
		return matched, nil

	default:
		return pickSubject(ctx, cfg, subjects)
	}
}

// pickSubject runs the interactive fzf picker over the subject listing.
func pickSubject(ctx context.Context, cfg *config.Config, subjects []portal.Subject) ([]portal.Subject, error) {
	options := make([]picker.Option, 0, len(subjects))
	for _, subject := range subjects {
		options = append(options, picker.Option{ID: subject.ID, Label: subject.SubjectName})
	}
	fzf := &picker.Fzf{Path: cfg.FzfPath, Prompt: "Select course: "}
	chosen, err := fzf.Select(ctx, options)
	if err != nil {
		return nil, err
	}
	for _, subject := range subjects {
		if subject.ID == chosen.ID {
			return []portal.Subject{subject}, nil
		}
	}
	return nil, picker.ErrNoMatch
}

// connectPortal builds an authenticated portal client.
func connectPortal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*portal.Client, error) {
	// .env in the working directory is the usual place for credentials
	_ = godotenv.Load()

	username := config.ResolveEnvVars(cfg.Portal.Username)
	if username == "" {
		username = os.Getenv("SLATE_USERNAME")
	}
	password := config.ResolveEnvVars(cfg.Portal.Password)
	if password == "" {
		password = os.Getenv("SLATE_PASSWORD")
	}

	reader := bufio.NewReader(os.Stdin)
	if username == "" {
		fmt.Print("Portal username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Print("Portal password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("portal credentials are required (set SLATE_USERNAME and SLATE_PASSWORD)")
	}

	baseURL := cfg.Portal.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultPortalBaseURL
	}

	client, err := portal.NewClient(portal.ClientOptions{BaseURL: baseURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, username, password); err != nil {
		return nil, err
	}
	fmt.Println("Authenticated.")
	return client, nil
}

// subjectRecord is the cached courses.json entry; field names are stable
// for downstream consumers.
type subjectRecord struct {
	ID          string `json:"id"`
	SubjectCode string `json:"subjectCode"`
	SubjectName string `json:"subjectName"`
}

func writeSubjects(path string, subjects []portal.Subject) error {
	records := make([]subjectRecord, 0, len(subjects))
	for _, subject := range subjects {
		records = append(records, subjectRecord{
			ID:          subject.ID,
			SubjectCode: subject.SubjectCode,
			SubjectName: subject.SubjectName,
		})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
