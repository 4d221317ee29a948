package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/workflow"
)

type rootOptions struct {
	backendURL string
	logLevel   string
	yes        bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "attendance",
		Short: "Classroom attendance station",
		Long: `Registers students from three photos and marks attendance from one
classroom photo, using a remote face-recognition backend.

Configuration is read from ATTENDANCE_* environment variables; the flags below
override the backend URL and log level. Set REDIS_ADDR to keep the last known
classroom and student lists for offline use between commands.

Examples:
  attendance classrooms list
  attendance register 5A --name Jane --image a.jpg --image b.jpg --image c.jpg
  attendance recognize 5A --image class.jpg
  attendance students delete 5A Jane --yes
  attendance serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.backendURL, "backend-url", "", "Recognition backend base URL (overrides ATTENDANCE_BACKEND_URL)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "Confirm destructive actions without prompting")

	root.AddCommand(
		newClassroomsCmd(opts),
		newStudentsCmd(opts),
		newRegisterCmd(opts),
		newRecognizeCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
	)
	return root
}

type appFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// withApp builds the shared services for the duration of one command.
func withApp(opts *rootOptions, fn appFunc) func(*cobra.Command, []string) error {
	return runWithApp(opts, modeCommand, fn)
}

func runWithApp(opts *rootOptions, mode appMode, fn appFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, opts, mode)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd, args)
	}
}

func confirmerFor(opts *rootOptions, cmd *cobra.Command) workflow.Confirmer {
	if opts.yes {
		return workflow.Confirmed
	}
	return &promptConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
}

// promptConfirmer asks on the terminal; anything but y/yes declines.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (p *promptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	input, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "y" || input == "yes", nil
}

func newClassroomsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "classrooms", Short: "List and edit classrooms"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List classrooms",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			dir := workflow.NewDirectory(a.deps())
			err := dir.Refresh(ctx)
			state := dir.State()
			if err != nil && !state.Stale {
				return err
			}
			printDirectory(cmd.OutOrStdout(), state)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a classroom",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			dir := workflow.NewDirectory(a.deps())
			if err := dir.Create(ctx, args[0]); err != nil {
				return err
			}
			printDirectory(cmd.OutOrStdout(), dir.State())
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Rename a classroom",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			dir := workflow.NewDirectory(a.deps())
			if err := dir.Rename(ctx, args[0], args[1]); err != nil {
				return err
			}
			printDirectory(cmd.OutOrStdout(), dir.State())
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a classroom and its registrations",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			dir := workflow.NewDirectory(a.deps())
			if err := dir.Delete(ctx, args[0], confirmerFor(opts, cmd)); err != nil {
				if errors.Is(err, workflow.ErrNotConfirmed) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
				return err
			}
			printDirectory(cmd.OutOrStdout(), dir.State())
			return nil
		}),
	})
	return cmd
}

func newStudentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "students", Short: "List and delete registered students"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list CLASSROOM",
		Short: "List the students registered in a classroom",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			flow := workflow.NewRegistrationFlow(args[0], nil, a.cfg.RegisterQuality, a.deps())
			defer flow.Close()
			err := flow.Refresh(ctx)
			state := flow.State()
			if err != nil && !state.RosterStale {
				return err
			}
			printRoster(cmd.OutOrStdout(), state)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete CLASSROOM NAME",
		Short: "Delete a registered student",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			flow := workflow.NewRegistrationFlow(args[0], nil, a.cfg.RegisterQuality, a.deps())
			defer flow.Close()
			if err := flow.DeleteStudent(ctx, args[1], confirmerFor(opts, cmd)); err != nil {
				if errors.Is(err, workflow.ErrNotConfirmed) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", args[1], args[0])
			return nil
		}),
	})
	return cmd
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		name   string
		images []string
	)
	cmd := &cobra.Command{
		Use:   "register CLASSROOM",
		Short: "Register a student from three face images",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if len(images) > workflow.RegistrationImages {
				return fmt.Errorf("at most %d images can be registered, got %d", workflow.RegistrationImages, len(images))
			}
			device := a.fileCamera(capture.NewQueueSource(images...))
			flow := workflow.NewRegistrationFlow(args[0], device, a.cfg.RegisterQuality, a.deps())
			defer flow.Close()

			if err := openCamera(ctx, flow); err != nil {
				return err
			}
			for i := range images {
				if _, err := flow.TakeImage(ctx); err != nil {
					return fmt.Errorf("capture %d: %w", i+1, err)
				}
			}
			flow.SetStudentName(name)

			outcome, err := flow.Submit(ctx)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), outcome)
		}),
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Student name")
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "Face image (repeat three times)")
	return cmd
}

func newRecognizeCmd(opts *rootOptions) *cobra.Command {
	var image string
	cmd := &cobra.Command{
		Use:   "recognize CLASSROOM",
		Short: "Mark attendance from one classroom photo",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if image == "" {
				return errors.New("--image is required")
			}
			device := a.fileCamera(capture.NewQueueSource(image))
			flow := workflow.NewRecognitionFlow(args[0], device, a.cfg.RecognizeQuality, a.deps())
			defer flow.Close()

			if err := openCamera(ctx, flow); err != nil {
				return err
			}
			if _, err := flow.TakePhoto(ctx); err != nil {
				return err
			}

			outcome, err := flow.Submit(ctx)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), outcome)
		}),
	}
	cmd.Flags().StringVarP(&image, "image", "i", "", "Classroom photo")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "history CLASSROOM",
		Short: "Show recorded attendance of a classroom",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if a.history == nil {
				return errors.New("attendance history requires DATABASE_DSN")
			}
			out := cmd.OutOrStdout()
			if summary {
				s, err := a.history.Summarize(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Classroom: %s\nSessions: %d\nAverage present: %.1f\n", s.Classroom, s.Sessions, s.AverageCount)
				for _, entry := range s.SortedPresence() {
					fmt.Fprintf(out, "  %s\n", entry)
				}
				return nil
			}

			records, err := a.history.ListByClassroom(ctx, args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCOUNT\tNAMES\tREQUEST")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04"), rec.HeadCount, strings.Join(rec.NameList(), ", "), rec.RequestID)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show per-student presence instead of sessions")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the station bridge for a local UI",
		Long: `Serves the station over HTTP. Frames are taken from ATTENDANCE_SPOOL_DIR,
where an external grabber writes camera snapshots.`,
		Args: cobra.NoArgs,
		RunE: runWithApp(opts, modeServe, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return runServe(ctx, a)
		}),
	}
}

// cameraFlow is the capture side shared by both flows.
type cameraFlow interface {
	Capture() *capture.Controller
	Open() error
}

// openCamera resolves the permission and opens the flow's camera.
func openCamera(ctx context.Context, flow cameraFlow) error {
	perm, err := flow.Capture().RequestPermission(ctx)
	if err != nil {
		return err
	}
	if perm != capture.PermissionGranted {
		return fmt.Errorf("camera permission %s: check the image files and ATTENDANCE_CAPTURE_DIR", perm)
	}
	return flow.Open()
}

// printOutcome renders a terminal outcome; a Failed outcome becomes the
// command error.
func printOutcome(w io.Writer, outcome workflow.Outcome) error {
	switch o := outcome.(type) {
	case workflow.Succeeded:
		switch p := o.Payload.(type) {
		case workflow.RecognitionResult:
			fmt.Fprintf(w, "Present: %d\n", p.Count)
			for _, name := range p.Names {
				fmt.Fprintf(w, "  %s\n", name)
			}
		case workflow.RegistrationAck:
			msg := p.Message
			if msg == "" {
				msg = "Student registered"
			}
			fmt.Fprintf(w, "%s: %s\n", p.Student, msg)
		}
		return nil
	case workflow.Failed:
		return errors.New(o.Message)
	default:
		return fmt.Errorf("unexpected outcome %v", workflow.StatusOf(outcome))
	}
}

func printDirectory(w io.Writer, state workflow.DirectoryState) {
	if state.Stale {
		fmt.Fprintf(w, "(offline: showing cached list; %s)\n", state.LastError)
	}
	if len(state.Classrooms) == 0 {
		fmt.Fprintln(w, "No classrooms")
		return
	}
	for _, c := range state.Classrooms {
		fmt.Fprintln(w, c)
	}
}

func printRoster(w io.Writer, state workflow.RegistrationState) {
	if state.RosterStale {
		fmt.Fprintf(w, "(offline: showing cached roster; %s)\n", state.LastError)
	}
	if len(state.Roster) == 0 {
		fmt.Fprintf(w, "No students registered in %s\n", state.Classroom)
		return
	}
	for _, s := range state.Roster {
		fmt.Fprintln(w, s)
	}
}
