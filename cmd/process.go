package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/facewatch/internal/matcher"
	"github.com/kozaktomas/facewatch/internal/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <file-or-dir>...",
	Short: "Recognize faces in snapshots",
	Long: `Extract faces from one or more snapshots, match them against the stored
faces and save the unknown ones for labeling.

Directories are scanned recursively for .jpg, .jpeg and .png files.

Examples:
  # Process a single snapshot
  facewatch process snapshot.jpg --camera front_door

  # Process a burst of snapshots as one camera event
  facewatch process ./event-1234/ --event-id event-1234

  # Output as JSON
  facewatch process snapshot.jpg --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("event-id", "", "Event ID shared by all snapshots (generated per snapshot if empty)")
	processCmd.Flags().String("camera", "", "Camera name (defaults to the EXIF camera)")
	processCmd.Flags().Bool("json", false, "Output as JSON")
}

var snapshotExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// collectSnapshots expands directories into the image files they contain.
func collectSnapshots(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && snapshotExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", arg, err)
		}
	}
	return files, nil
}

type processResult struct {
	File string `json:"file"`
	pipeline.Report
}

func runProcess(cmd *cobra.Command, args []string) error {
	eventID := mustGetString(cmd, "event-id")
	camera := mustGetString(cmd, "camera")
	jsonOutput := mustGetBool(cmd, "json")

	files, err := collectSnapshots(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no snapshots found")
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	svc, cleanup := a.newPipeline(ctx)
	defer cleanup()

	var bar *progressbar.ProgressBar
	if !jsonOutput && len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Processing snapshots"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("snapshots"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	results := make([]processResult, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		report := svc.Process(ctx, pipeline.Upload{Data: data, EventID: eventID, Camera: camera})
		results = append(results, processResult{File: file, Report: report})
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		fmt.Println()
	}

	if jsonOutput {
		return outputJSON(results)
	}

	var faces, saved int
	for _, r := range results {
		printReport(r)
		faces += len(r.Matches)
		saved += r.Saved
	}
	fmt.Printf("\nProcessed %d snapshot(s): %d face(s), %d saved\n", len(results), faces, saved)
	return nil
}

func printReport(r processResult) {
	fmt.Printf("%s (event %s)\n", r.File, r.EventID)
	if len(r.Matches) == 0 {
		fmt.Println("  no faces")
	}
	for _, m := range r.Matches {
		switch m.Result.Kind {
		case matcher.KindIdentified:
			fmt.Printf("  [%d] identified %s (confidence %.2f, face %s)\n",
				m.Face.FaceIndex, displayName(m.Result.Name), m.Result.Confidence, m.Result.FaceID)
		case matcher.KindSuggestion:
			fmt.Printf("  [%d] maybe %s (confidence %.2f, needs confirmation)\n",
				m.Face.FaceIndex, displayName(m.Result.Name), m.Result.Confidence)
		case matcher.KindUnknown:
			fmt.Printf("  [%d] unknown face %s\n", m.Face.FaceIndex, m.Face.ID)
		case matcher.KindError:
			fmt.Printf("  [%d] error: %s\n", m.Face.FaceIndex, m.Result.Message)
		}
	}
	if r.Skipped > 0 {
		fmt.Printf("  %d face(s) skipped (too small, blurry or low quality)\n", r.Skipped)
	}
	if r.Deduplicated {
		fmt.Println("  not saved: event seen recently")
	}
	if r.SaveErrors > 0 {
		fmt.Printf("  %d face(s) failed to save\n", r.SaveErrors)
	}
}

func displayName(name string) string {
	if name == "" {
		return "(unlabeled)"
	}
	return name
}
