package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/thumbnail"
	"github.com/spf13/cobra"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Inspect and label stored faces",
}

var facesUnclassifiedCmd = &cobra.Command{
	Use:   "unclassified",
	Short: "List faces waiting for a label",
	Args:  cobra.NoArgs,
	RunE:  runFacesUnclassified,
}

var facesGetCmd = &cobra.Command{
	Use:   "get <face-id>",
	Short: "Show a stored face",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacesGet,
}

var facesLabelCmd = &cobra.Command{
	Use:   "label <face-id>",
	Short: "Set the label of a stored face",
	Long: `Update the labeling fields of a face. Only the flags that are given are
changed, everything else is kept.

Examples:
  facewatch faces label 0b6f... --name "Jan Novák" --relationship neighbour
  facewatch faces label 0b6f... --notes "delivery driver"`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesLabel,
}

var facesDeleteCmd = &cobra.Command{
	Use:   "delete <face-id>...",
	Short: "Delete stored faces and their thumbnails",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFacesDelete,
}

var facesSearchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "List faces labeled with a name",
	Long: `List faces labeled with a name. Names are compared without case and
diacritics, so "jan novak" finds faces labeled "Jan Novák".`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesSearch,
}

var facesSimilarCmd = &cobra.Command{
	Use:   "similar <face-id>",
	Short: "List faces similar to a stored face",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacesSimilar,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesUnclassifiedCmd, facesGetCmd, facesLabelCmd, facesDeleteCmd, facesSearchCmd, facesSimilarCmd)

	for _, c := range []*cobra.Command{facesUnclassifiedCmd, facesGetCmd, facesSearchCmd, facesSimilarCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}

	facesLabelCmd.Flags().String("name", "", "Person name (\"unknown\" marks the face unclassified)")
	facesLabelCmd.Flags().String("relationship", "", "Relationship to the household")
	facesLabelCmd.Flags().Float64("confidence", 1.0, "Label confidence (0-1)")
	facesLabelCmd.Flags().String("notes", "", "Free-form notes")

	facesDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")

	facesSimilarCmd.Flags().Int("limit", 10, "Maximum number of results")
	facesSimilarCmd.Flags().Float64("min-score", 0.3, "Minimum similarity score (1 - distance)")
}

func printFaces(faces []database.FaceRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE ID\tNAME\tSUGGESTED\tEVENT\tCAMERA\tQUALITY\tSEEN")
	fmt.Fprintln(w, "-------\t----\t---------\t-----\t------\t-------\t----")
	for _, f := range faces {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			f.ID, f.Name, f.SuggestedName, f.EventID, f.Camera,
			f.Quality.QualityScore, f.Timestamp.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func runFacesUnclassified(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	faces := a.store.ListUnclassified(ctx)
	if jsonOutput {
		if faces == nil {
			faces = []database.FaceRecord{}
		}
		return outputJSON(faces)
	}
	if len(faces) == 0 {
		fmt.Println("No unclassified faces.")
		return nil
	}
	printFaces(faces)
	fmt.Printf("\nTotal: %d unclassified faces\n", len(faces))
	return nil
}

func runFacesGet(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	face := a.store.Get(ctx, args[0])
	if face == nil {
		return fmt.Errorf("face %s not found", args[0])
	}
	face.Embedding = nil

	if jsonOutput {
		return outputJSON(face)
	}

	fmt.Printf("Face:         %s\n", face.ID)
	fmt.Printf("Name:         %s\n", displayName(face.Name))
	if face.SuggestedName != "" {
		fmt.Printf("Suggested:    %s\n", face.SuggestedName)
	}
	if face.Relationship != "" {
		fmt.Printf("Relationship: %s\n", face.Relationship)
	}
	if face.Notes != "" {
		fmt.Printf("Notes:        %s\n", face.Notes)
	}
	fmt.Printf("Event:        %s\n", face.EventID)
	fmt.Printf("Camera:       %s\n", face.Camera)
	fmt.Printf("Seen:         %s\n", face.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Box:          (%d,%d)-(%d,%d)\n", face.BBox.X1, face.BBox.Y1, face.BBox.X2, face.BBox.Y2)
	fmt.Printf("Detection:    %.2f\n", face.DetectionConfidence)
	fmt.Printf("Quality:      %.2f (sharpness %.1f, area %.0f, brightness %.1f, contrast %.1f)\n",
		face.Quality.QualityScore, face.Quality.Sharpness, face.Quality.FaceArea,
		face.Quality.Brightness, face.Quality.Contrast)
	fmt.Printf("Thumbnail:    %s\n", face.Thumbnail)
	return nil
}

func runFacesLabel(cmd *cobra.Command, args []string) error {
	var update database.FaceUpdate
	flags := cmd.Flags()
	if flags.Changed("name") {
		name := mustGetString(cmd, "name")
		update.Name = &name
	}
	if flags.Changed("relationship") {
		rel := mustGetString(cmd, "relationship")
		update.Relationship = &rel
	}
	if flags.Changed("confidence") {
		conf := mustGetFloat64(cmd, "confidence")
		if conf < 0 || conf > 1 {
			return fmt.Errorf("confidence must be between 0 and 1, got %f", conf)
		}
		update.Confidence = &conf
	}
	if flags.Changed("notes") {
		notes := mustGetString(cmd, "notes")
		update.Notes = &notes
	}
	if update.Empty() {
		return fmt.Errorf("nothing to update: pass at least one of --name, --relationship, --confidence, --notes")
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.store.Update(ctx, args[0], update) {
		return fmt.Errorf("face %s not found or could not be updated", args[0])
	}
	fmt.Printf("Updated face %s.\n", args[0])
	return nil
}

func runFacesDelete(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")

	if !skipConfirm {
		fmt.Printf("Delete %d face(s)? [y/N]: ", len(args))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	thumbs := thumbnail.NewFileStore(a.cfg.Extraction.ThumbnailDir)
	deleted := 0
	for _, id := range args {
		if !a.store.Delete(ctx, id) {
			fmt.Printf("  - %s: not found (skipping)\n", id)
			continue
		}
		if err := thumbs.Remove(id); err != nil {
			fmt.Printf("  - %s: deleted, but thumbnail removal failed: %v\n", id, err)
		}
		deleted++
	}

	fmt.Printf("Deleted %d face(s).\n", deleted)
	return nil
}

func runFacesSearch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	faces := a.store.FindByName(ctx, args[0])
	if jsonOutput {
		if faces == nil {
			faces = []database.FaceRecord{}
		}
		return outputJSON(faces)
	}
	if len(faces) == 0 {
		fmt.Printf("No faces labeled %q.\n", args[0])
		return nil
	}
	printFaces(faces)
	fmt.Printf("\nTotal: %d faces\n", len(faces))
	return nil
}

type similarFace struct {
	FaceID   string  `json:"face_id"`
	Name     string  `json:"name,omitempty"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

func runFacesSimilar(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	limit := mustGetInt(cmd, "limit")
	minScore := mustGetFloat64(cmd, "min-score")

	ctx := context.Background()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	face := a.store.Get(ctx, args[0])
	if face == nil {
		return fmt.Errorf("face %s not found", args[0])
	}
	if len(face.Embedding) == 0 {
		return fmt.Errorf("face %s has no stored embedding", args[0])
	}

	// One extra result for the face itself.
	results := a.store.Search(ctx, face.Embedding, limit+1, minScore)
	similar := make([]similarFace, 0, len(results))
	for _, r := range results {
		if r.FaceID == face.ID {
			continue
		}
		similar = append(similar, similarFace{FaceID: r.FaceID, Name: r.Record.Name, Distance: r.Distance, Score: 1 - r.Distance})
	}
	if len(similar) > limit {
		similar = similar[:limit]
	}

	if jsonOutput {
		return outputJSON(similar)
	}
	if len(similar) == 0 {
		fmt.Println("No similar faces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE ID\tNAME\tDISTANCE\tSCORE")
	fmt.Fprintln(w, "-------\t----\t--------\t-----")
	for _, s := range similar {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\n", s.FaceID, s.Name, s.Distance, s.Score)
	}
	w.Flush()
	return nil
}
