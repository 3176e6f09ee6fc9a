// Package cmds implements the stackmend command line interface.
package cmds

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/config"
	"github.com/stackmend/stackmend/pkg/frame"
	"github.com/stackmend/stackmend/pkg/logflags"
	"github.com/stackmend/stackmend/pkg/version"
)

var (
	// log is whether to produce debug output.
	log bool
	// logOutput is a comma separated list of components that should
	// produce debug output.
	logOutput string
	// confFile is the path to the configuration file.
	confFile string
	// outFile is where the patched binary is written.
	outFile string
	// safeMode pins every variable in place.
	safeMode bool
	// whitelist and blacklist restrict which functions are patched.
	whitelist []string
	blacklist []string

	conf *config.Config
)

const stackmendLongDesc = `Stackmend rewrites the stack frames of a compiled executable.

For every function it models the frame allocation, the accesses made
through the stack pointer and the frame pointer, and the frame's
deallocation. Accesses that reach below the allocated frame are brought
back inside it by growing the frame and re-encoding the affected
displacements, without changing the size of any instruction.

The input binary is never modified; the patched copy is written to a
separate output file.
`

// New returns the root command tree.
func New() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "stackmend",
		Short: "Stackmend hardens the stack frames of compiled binaries.",
		Long:  stackmendLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (frame, tagger, solver, binary).")
	rootCommand.PersistentFlags().StringVar(&confFile, "config", "", "Configuration file. Defaults to "+config.DefaultConfigFile+" in the working directory, if present.")

	// 'patch' subcommand.
	patchCommand := &cobra.Command{
		Use:   "patch <binary>",
		Short: "Patch the stack frames of a binary.",
		Long: `Analyze every function of the binary and write a patched copy with
resized stack frames.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: patchCmd,
	}
	patchCommand.Flags().StringVarP(&outFile, "output", "o", "", "Output file. Defaults to the input path with '.out' appended.")
	patchCommand.Flags().BoolVar(&safeMode, "safe", false, "Keep every variable at its stack-pointer-relative position; only resize allocations.")
	patchCommand.Flags().StringSliceVar(&whitelist, "whitelist", nil, "Only patch the named functions. A trailing '*' matches by prefix.")
	patchCommand.Flags().StringSliceVar(&blacklist, "blacklist", nil, "Never patch the named functions. A trailing '*' matches by prefix.")
	rootCommand.AddCommand(patchCommand)

	// 'verify' subcommand.
	verifyCommand := &cobra.Command{
		Use:   "verify <binary>",
		Short: "Check that a binary's stack frames need no patching.",
		Long: `Run the same analysis as 'patch' and report whether it would change
anything. Running verify on a patched output should find nothing; exits
nonzero otherwise.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: verifyCmd,
	}
	verifyCommand.Flags().BoolVar(&safeMode, "safe", false, "Verify in safe mode.")
	verifyCommand.Flags().StringSliceVar(&whitelist, "whitelist", nil, "Only verify the named functions.")
	verifyCommand.Flags().StringSliceVar(&blacklist, "blacklist", nil, "Skip the named functions.")
	rootCommand.AddCommand(verifyCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stackmend\n%s\n", version.StackmendVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func patchCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(args[0], false))
}

func verifyCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(args[0], true))
}

// execute runs the analysis pipeline over path. With verifyOnly it
// reports instead of writing output, failing when patches were found.
func execute(path string, verifyOnly bool) int {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var err error
	conf, err = config.LoadConfig(confFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	img, err := bin.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	p, err := frame.New(img, frame.Options{
		Safe:      safeMode || conf.Safe,
		Whitelist: mergeList(whitelist, conf.Whitelist),
		Blacklist: mergeList(blacklist, conf.Blacklist),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := p.PatchStack(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if verifyOnly {
		if n := len(p.Patches()); n != 0 {
			fmt.Fprintf(os.Stderr, "%s: %d functions would be patched (%d patches)\n", path, p.Successes(), n)
			return 1
		}
		fmt.Printf("%s: ok\n", path)
		return 0
	}

	out := outFile
	if out == "" {
		out = conf.Output
	}
	if err := p.Apply(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// mergeList prefers the command line over the config file.
func mergeList(flag, conf []string) []string {
	if len(flag) != 0 {
		return flag
	}
	return conf
}
