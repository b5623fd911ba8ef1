package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudsync"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/pkg/roster"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	repo  *repository.Repository
	codec *backup.Codec
	// cloud is used when the stored settings name no backend.
	cloud cloud.Config
	out   io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  export -out FILE          - write a backup archive")
	fmt.Fprintln(cli.out, "  restore -in FILE          - replace all data with a backup archive")
	fmt.Fprintln(cli.out, "  import-roster -in FILE    - import students and classes from a workbook")
	fmt.Fprintln(cli.out, "  import-photos -dir DIR    - attach <nationalId>.<ext> photos")
	fmt.Fprintln(cli.out, "  normalize-chars           - replace Arabic letter forms with Persian ones")
	fmt.Fprintln(cli.out, "  pad-ids                   - left-pad national ids to 10 digits")
	fmt.Fprintln(cli.out, "  push -email EMAIL         - upload all data to the cloud account")
	fmt.Fprintln(cli.out, "  pull -email EMAIL         - replace all data with the cloud copy")
	fmt.Fprintln(cli.out, "  reset -yes                - delete everything")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportOut := exportCmd.String("out", "", "Archive to write. Defaults to moshaver-YYYYMMDD.zip.")

	restoreCmd := flag.NewFlagSet("restore", flag.ContinueOnError)
	restoreIn := restoreCmd.String("in", "", "Archive to restore.")
	restoreKeepCloud := restoreCmd.Bool("keep-cloud", false, "Keep this device's cloud URL and key.")

	rosterCmd := flag.NewFlagSet("import-roster", flag.ContinueOnError)
	rosterIn := rosterCmd.String("in", "", "Workbook (.xlsx) to import.")

	photosCmd := flag.NewFlagSet("import-photos", flag.ContinueOnError)
	photosDir := photosCmd.String("dir", "", "Directory of photos named by national id.")

	pushCmd := flag.NewFlagSet("push", flag.ContinueOnError)
	pushEmail := pushCmd.String("email", "", "Cloud account email. The password will be prompted next.")

	pullCmd := flag.NewFlagSet("pull", flag.ContinueOnError)
	pullEmail := pullCmd.String("email", "", "Cloud account email. The password will be prompted next.")

	resetCmd := flag.NewFlagSet("reset", flag.ContinueOnError)
	resetYes := resetCmd.Bool("yes", false, "Confirm deleting all data.")

	for _, fs := range []*flag.FlagSet{exportCmd, restoreCmd, rosterCmd, photosCmd, pushCmd, pullCmd, resetCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		path := *exportOut
		if path == "" {
			path = "moshaver-" + time.Now().Format("20060102") + ".zip"
		}
		return cli.export(ctx, path)

	case "restore":
		if err := restoreCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *restoreIn == "" {
			restoreCmd.Usage()
			return errHelp
		}
		return cli.restore(ctx, *restoreIn, *restoreKeepCloud)

	case "import-roster":
		if err := rosterCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *rosterIn == "" {
			rosterCmd.Usage()
			return errHelp
		}
		return cli.importRoster(ctx, *rosterIn)

	case "import-photos":
		if err := photosCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *photosDir == "" {
			photosCmd.Usage()
			return errHelp
		}
		return cli.importPhotos(ctx, *photosDir)

	case "normalize-chars":
		n, err := cli.repo.NormalizeArabicChars(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d records updated\n", n)
		return nil

	case "pad-ids":
		n, err := cli.repo.PadLeadingZeros(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d students updated\n", n)
		return nil

	case "push", "pull":
		fs, email := pushCmd, pushEmail
		if args[1] == "pull" {
			fs, email = pullCmd, pullEmail
		}
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *email == "" {
			fs.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			fs.Usage()
			return errHelp
		}
		return cli.sync(ctx, args[1], *email, string(pwd))

	case "reset":
		if err := resetCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if !*resetYes {
			fmt.Fprintln(cli.out, "This deletes every record. Run again with -yes to confirm.")
			return errHelp
		}
		if err := cli.repo.FactoryReset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "All data deleted")
		return nil

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) export(ctx context.Context, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	stats, err := cli.codec.Export(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Backup written to %s: %d students, %d photos\n", path, stats.Students, stats.Photos)
	return nil
}

func (cli *commandLine) restore(ctx context.Context, path string, keepCloud bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := cli.codec.Restore(ctx, data, backup.RestoreOptions{PreserveCloudCredentials: keepCloud}); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Restored %d classrooms and %d students\n", len(cli.repo.Classrooms()), len(cli.repo.Students()))
	return nil
}

func (cli *commandLine) importRoster(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	parsed, err := roster.Parse(f)
	if err != nil {
		return err
	}
	res, err := cli.repo.ImportRoster(ctx, parsed)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Inserted %d, updated %d, unchanged %d students; %d class assignments, %d ambiguous; %d classrooms created\n",
		res.Inserted, res.Updated, res.Unchanged, res.Assigned, res.Ambiguous, res.ClassroomsCreated)
	return nil
}

func (cli *commandLine) importPhotos(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}
	res, err := cli.repo.ImportPhotos(ctx, files)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d photos attached, %d without a matching student, %d unreadable\n",
		len(res.Matched), len(res.Unmatched), len(res.Failed))
	for _, name := range res.Unmatched {
		fmt.Fprintf(cli.out, "  unmatched: %s\n", name)
	}
	return nil
}

// backendConfig prefers the backend stored in the settings.
func (cli *commandLine) backendConfig() cloud.Config {
	st := cli.repo.Settings()
	if st.CloudURL != "" && st.CloudKey != "" {
		return cloud.Config{URL: st.CloudURL, Key: st.CloudKey, HTTPClient: cli.cloud.HTTPClient}
	}
	return cli.cloud
}

func (cli *commandLine) sync(ctx context.Context, direction, email, password string) error {
	client, err := cloud.NewClient(cli.backendConfig())
	if err != nil {
		return err
	}
	engine := cloudsync.New(client, cli.repo)
	engine.ResetDelay = 0
	unsub := engine.Subscribe(func(st cloudsync.Status) {
		if st.Active {
			fmt.Fprintf(cli.out, "[%3d%%] %s\n", st.Progress, st.Message)
		}
	})
	defer unsub()

	if _, err := engine.Login(ctx, email, password); err != nil {
		if errors.Is(err, cloud.ErrConfirmationRequired) {
			fmt.Fprintln(cli.out, "Account created. Confirm it from the email sent to", email, "and run again.")
		}
		return err
	}
	defer engine.Logout(ctx)

	run := engine.Push
	if direction == "pull" {
		run = engine.Pull
	}
	st, err := run(ctx)
	if err != nil {
		return err
	}
	if st.Error {
		return fmt.Errorf("%s failed: %s", direction, st.Message)
	}
	fmt.Fprintln(cli.out, st.Message)
	return nil
}
