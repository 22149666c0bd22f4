// Command bpfverify runs the static verifier over a line-oriented
// instruction listing, analogous to `bpftool prog load -d`: it loads a
// program, runs it through the same analysis pipeline a kernel load
// would, and prints the verifier log plus the accept/reject outcome.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bpfverify/internal/asmtext"
	"bpfverify/internal/check"
	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/opcode"
	"bpfverify/internal/verifier"
	"bpfverify/internal/vlog"
)

var progTypes = map[string]struct {
	pt  opcode.ProgType
	ops ctxaccess.Ops
}{
	"socket_filter": {opcode.ProgTypeSocketFilter, ctxaccess.NewSocketFilterOps()},
	"xdp":           {opcode.ProgTypeXDP, ctxaccess.XDPOps{}},
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		progType        string
		logLevel        int
		allowPtrLeaks   bool
		bpfCapable      bool
		bypassSpecV1    bool
		bypassSpecV4    bool
		strictAlignment bool
	)

	cmd := &cobra.Command{
		Use:           "bpfverify <file>",
		Short:         "Statically verify a BPF instruction listing",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, ok := progTypes[progType]
			if !ok {
				return fmt.Errorf("unknown --prog-type %q", progType)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			insns, err := asmtext.Parse(f)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}

			log := vlog.New(vlog.Level(logLevel))
			res, verr := verifier.Verify(insns, verifier.Config{
				ProgType: pt.pt,
				Ops:      pt.ops,
				Log:      log,
				Caps: check.Capabilities{
					AllowPtrLeaks:    allowPtrLeaks,
					BPFCapable:       bpfCapable,
					BypassSpecV1:     bypassSpecV1,
					BypassSpecV4:     bypassSpecV4,
				},
				StrictAlignment: strictAlignment,
			})

			if log.String() != "" {
				fmt.Fprint(cmd.OutOrStdout(), log.String())
			}
			if verr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "REJECTED: %v\n", verr)
				return verr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ACCEPTED: %d instructions processed, peak %d live states\n",
				res.Stats.InsnProcessed, res.Stats.PeakStates)
			return nil
		},
	}

	flags := cmd.Flags()
	names := make([]string, 0, len(progTypes))
	for name := range progTypes {
		names = append(names, name)
	}
	flags.StringVar(&progType, "prog-type", "socket_filter", fmt.Sprintf("program type (%v)", names))
	flags.IntVar(&logLevel, "log-level", 0, "verifier log level: 0=silent, 1=per-insn, 2=per-state")
	flags.BoolVar(&allowPtrLeaks, "allow-ptr-leaks", false, "allow leaking kernel pointers to userspace")
	flags.BoolVar(&bpfCapable, "bpf-capable", false, "grant CAP_BPF-equivalent privileges")
	flags.BoolVar(&bypassSpecV1, "bypass-spec-v1", false, "disable Spectre v1 sanitization")
	flags.BoolVar(&bypassSpecV4, "bypass-spec-v4", false, "disable Spectre v4 sanitization")
	flags.BoolVar(&strictAlignment, "strict-alignment", false, "require strict alignment on unaligned-capable archs")

	return cmd
}
