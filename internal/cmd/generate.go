package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/ailink/driver"
	"github.com/pixelbot/pixelbot/internal/imaging"
	"github.com/pixelbot/pixelbot/internal/observability"
)

// cliRequestor is the admission identity of local CLI runs.
const cliRequestor admission.RequestorID = "cli"

// maxInputEdge bounds the longer side of an uploaded source image.
const maxInputEdge = 1024

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate an image from the command line",
	Long: `Generate, edit or enhance one image with the configured provider and
write it to disk. The request goes through the same admission gates and
provider pacing as the bot.

Examples:
  pixelbot generate "a lighthouse at dusk" --out lighthouse.png
  pixelbot generate "make it snowy" --kind edit --input photo.jpg --out-dir ./out`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("kind", string(admission.KindGeneration), "Task kind: generation|edit|enhancement")
	generateCmd.Flags().StringP("input", "i", "", "Source image for edit or enhancement")
	generateCmd.Flags().String("out", "", "Output file path")
	generateCmd.Flags().String("out-dir", "", "Output directory (file named from the prompt)")
	generateCmd.Flags().Int("width", 0, "Image width (default: image.width)")
	generateCmd.Flags().Int("height", 0, "Image height (default: image.height)")
	generateCmd.Flags().Bool("json", false, "Print the result as JSON")
}

type generateResult struct {
	TaskID   admission.TaskID `json:"task_id"`
	Kind     admission.Kind   `json:"kind"`
	Provider string           `json:"provider"`
	Path     string           `json:"path"`
	Bytes    int              `json:"bytes"`
	Elapsed  string           `json:"elapsed"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	inputPath, _ := cmd.Flags().GetString("input")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	asJSON, _ := cmd.Flags().GetBool("json")

	kind, prompt, err := generateRequest(kindFlag, args, inputPath)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		return invalidConfig(err)
	}
	if err := cfg.ValidateImage(); err != nil {
		return invalidConfig(err)
	}
	if width <= 0 {
		width = cfg.Image.Width
	}
	if height <= 0 {
		height = cfg.Image.Height
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	gen, err := newPacedGenerator(cfg.Image, db)
	if err != nil {
		return err
	}
	images := imaging.New(cfg.Image.MaxSize, cfg.Image.SupportedFormats)
	logger := observability.CLILogger

	req := &driver.ImageRequest{Prompt: prompt, Width: width, Height: height}
	if inputPath != "" {
		source, err := loadSourceImage(images, inputPath)
		if err != nil {
			return err
		}
		req.InputImage = source
	}

	coord := admission.New(admission.Config{
		MaxRequestsPerMinute: cfg.Admission.MaxRequestsPerMinute,
		MaxActiveTasks:       cfg.Admission.MaxActiveTasks,
		Window:               cfg.Admission.Window,
	}, admission.WithLogger(logger))

	var (
		data   []byte
		format string
	)
	started := time.Now()
	task, err := coord.Run(ctx, cliRequestor, func(ctx context.Context, task admission.TaskHandle) error {
		if cfg.Image.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Image.Timeout)
			defer cancel()
		}
		logger.Info("Generating image", zap.String("task_id", string(task.ID)), zap.String("kind", string(kind)), zap.String("provider", gen.Name()))

		resp, err := gen.GenerateImage(ctx, req)
		if err != nil {
			return err
		}
		block, ok := resp.First()
		if !ok {
			return errors.New("provider returned no image")
		}
		format = resp.OutputFormat
		if block.IsURL() {
			data, err = images.Download(ctx, block.Text)
			return err
		}
		data = block.Data
		return nil
	}, admission.WithKind(kind), admission.WithPrompt(prompt))
	if err != nil {
		return fmt.Errorf("%s failed: %w", kind, err)
	}

	path := outputImagePath(outPath, outDir, prompt, task.ID, imageExtension(format))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	result := generateResult{
		TaskID:   task.ID,
		Kind:     kind,
		Provider: gen.Name(),
		Path:     path,
		Bytes:    len(data),
		Elapsed:  time.Since(started).Round(time.Millisecond).String(),
	}
	if asJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes, %s)\n", result.Path, result.Bytes, result.Elapsed)
	return err
}

// generateRequest validates the kind/prompt/input combination. Enhancement
// needs no prompt of its own.
func generateRequest(kindFlag string, args []string, inputPath string) (admission.Kind, string, error) {
	kind := admission.Kind(strings.ToLower(strings.TrimSpace(kindFlag)))
	prompt := ""
	if len(args) > 0 {
		prompt = strings.TrimSpace(args[0])
	}

	switch kind {
	case admission.KindGeneration:
		if prompt == "" {
			return "", "", errors.New("a prompt is required")
		}
		if inputPath != "" {
			return "", "", errors.New("--input is only valid with --kind edit or enhancement")
		}
	case admission.KindEdit:
		if prompt == "" || inputPath == "" {
			return "", "", errors.New("edit needs a prompt and --input")
		}
	case admission.KindEnhancement:
		if inputPath == "" {
			return "", "", errors.New("enhancement needs --input")
		}
		if prompt == "" {
			prompt = "high quality, detailed, professional, enhanced, 4k resolution"
		}
	default:
		return "", "", fmt.Errorf("unsupported kind: %s", kindFlag)
	}
	return kind, prompt, nil
}

func loadSourceImage(images *imaging.Service, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if err := images.Validate(data); err != nil {
		return nil, err
	}
	resized, _, err := images.Resize(data, maxInputEdge, maxInputEdge)
	if err != nil {
		return nil, err
	}
	return resized, nil
}

func outputImagePath(outPath, outDir, prompt string, id admission.TaskID, ext string) string {
	if outPath != "" {
		return outPath
	}
	name := sanitizeFilename(prompt)
	if len(name) > 48 {
		name = strings.Trim(name[:48], "-.")
	}
	short := string(id)
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(outDir, fmt.Sprintf("%s-%s.%s", name, short, ext))
}

func imageExtension(format string) string {
	switch strings.ToLower(format) {
	case "", "jpeg":
		return "jpg"
	default:
		return strings.ToLower(format)
	}
}
