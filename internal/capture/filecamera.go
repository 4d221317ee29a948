package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// ErrNoFrame is returned when a frame source has nothing to hand out.
var ErrNoFrame = errors.New("capture: no frame available")

// FrameSource hands out the path of the next raw frame.
type FrameSource interface {
	NextFrame(ctx context.Context) (string, error)
	// Check reports whether the source can be read at all.
	Check() error
}

// QueueSource returns a fixed list of files in order, one per capture.
type QueueSource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewQueueSource builds a source over the given image files.
func NewQueueSource(paths ...string) *QueueSource {
	return &QueueSource{paths: append([]string(nil), paths...)}
}

func (q *QueueSource) NextFrame(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.paths) {
		return "", ErrNoFrame
	}
	p := q.paths[q.next]
	q.next++
	return p, nil
}

func (q *QueueSource) Check() error {
	for _, p := range q.paths {
		if _, err := os.Stat(p); err != nil {
			return err
		}
	}
	return nil
}

// SpoolSource returns the newest image an external grabber dropped into Dir.
type SpoolSource struct {
	Dir string
}

func (s SpoolSource) NextFrame(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return "", err
	}

	type frame struct {
		path string
		mod  time.Time
	}
	var frames []frame
	for _, e := range entries {
		if e.IsDir() || !isFrameFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		frames = append(frames, frame{path: filepath.Join(s.Dir, e.Name()), mod: info.ModTime()})
	}
	if len(frames) == 0 {
		return "", ErrNoFrame
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].mod.After(frames[j].mod) })
	return frames[0].path, nil
}

func (s SpoolSource) Check() error {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("spool %s is not a directory", s.Dir)
	}
	return nil
}

func isFrameFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// FileCameraOptions configure a FileCamera.
type FileCameraOptions struct {
	// OutputDir receives the re-encoded captures.
	OutputDir string
	// MaxDimension bounds width and height; 0 keeps the original size.
	MaxDimension int
}

// FileCamera stands in for a device camera on stations without one. Each
// capture reads a raw frame from its source, downsizes it and writes a JPEG
// at the requested quality into OutputDir.
type FileCamera struct {
	source FrameSource
	opts   FileCameraOptions
	logger *zap.Logger
}

// NewFileCamera builds a camera over source.
func NewFileCamera(source FrameSource, opts FileCameraOptions, logger *zap.Logger) *FileCamera {
	return &FileCamera{source: source, opts: opts, logger: logger.Named("file_camera")}
}

// RequestPermission grants access when the source is readable and the output
// directory is writable.
func (f *FileCamera) RequestPermission(ctx context.Context) (Permission, error) {
	if err := f.source.Check(); err != nil {
		f.logger.Warn("frame source unavailable", zap.Error(err))
		return PermissionDenied, nil
	}
	if err := os.MkdirAll(f.opts.OutputDir, 0o755); err != nil {
		f.logger.Warn("capture directory unavailable", zap.String("dir", f.opts.OutputDir), zap.Error(err))
		return PermissionDenied, nil
	}
	check, err := os.CreateTemp(f.opts.OutputDir, ".writable-*")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return PermissionDenied, nil
		}
		return PermissionUndetermined, err
	}
	check.Close()
	os.Remove(check.Name())
	return PermissionGranted, nil
}

// Capture implements Camera.
func (f *FileCamera) Capture(ctx context.Context, quality int) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	src, err := f.source.NextFrame(ctx)
	if err != nil {
		return Image{}, err
	}

	img, takenAt, err := readFrame(src)
	if err != nil {
		return Image{}, err
	}
	img = downscale(img, f.opts.MaxDimension)

	id := uuid.NewString()
	dst := filepath.Join(f.opts.OutputDir, id+".jpg")
	out, err := os.Create(dst)
	if err != nil {
		return Image{}, fmt.Errorf("create capture file: %w", err)
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		out.Close()
		os.Remove(dst)
		return Image{}, fmt.Errorf("encode capture: %w", err)
	}
	if err := out.Close(); err != nil {
		return Image{}, fmt.Errorf("close capture file: %w", err)
	}

	f.logger.Debug("frame captured",
		zap.String("source", src),
		zap.String("path", dst),
		zap.Int("quality", quality))

	return Image{ID: id, Path: dst, TakenAt: takenAt}, nil
}

func readFrame(path string) (image.Image, time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("open frame: %w", err)
	}
	defer file.Close()

	takenAt := time.Time{}
	if exifData, err := imagemeta.Decode(file); err == nil {
		if !exifData.DateTimeOriginal().IsZero() {
			takenAt = exifData.DateTimeOriginal()
		} else if !exifData.CreateDate().IsZero() {
			takenAt = exifData.CreateDate()
		}
	}
	if takenAt.IsZero() {
		if info, err := file.Stat(); err == nil {
			takenAt = info.ModTime()
		}
	}

	if _, err := file.Seek(0, 0); err != nil {
		return nil, time.Time{}, fmt.Errorf("rewind frame: %w", err)
	}
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode frame: %w", err)
	}
	return img, takenAt, nil
}

func downscale(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDimension <= 0 || (w <= maxDimension && h <= maxDimension) {
		return img
	}

	var newW, newH int
	if w >= h {
		newW = maxDimension
		newH = h * maxDimension / w
	} else {
		newH = maxDimension
		newW = w * maxDimension / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	}
	return q
}
