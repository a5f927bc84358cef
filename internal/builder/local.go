package builder

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/plan"
	"github.com/sirupsen/logrus"
)

// LocalBuilder executes a task's commands directly on the host, without
// namespace isolation. It materializes the source into task.BuildPath,
// applies patches, runs the selected commands with the task's build
// environment, and commits the staged result into task.InstallPath with a
// rename. It does not process the manifest's substs: those files are left
// as materialized. Callers that need real sandboxing substitute their own
// Builder.
type LocalBuilder struct {
	Log *logrus.Logger
}

func (b *LocalBuilder) log() *logrus.Logger {
	if b.Log != nil {
		return b.Log
	}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Execute implements Builder.
func (b *LocalBuilder) Execute(ctx context.Context, cfg *nbm.Config, task *plan.BuildTask, mode Mode, spec ExecSpec, skipInstall bool) error {
	for _, dir := range []string{task.BuildPath, task.StagePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &AdapterError{Category: Sandbox, Detail: err.Error()}
		}
	}

	if err := materialize(task.SourcePath, task.BuildPath); err != nil {
		return &AdapterError{Category: Sandbox, Detail: err.Error()}
	}
	if err := b.applyPatches(ctx, task); err != nil {
		return err
	}

	switch mode {
	case ModeBuild:
		for _, cmd := range task.Build.Commands {
			if err := b.runCommand(ctx, task, cmd); err != nil {
				return err
			}
		}
		for _, cmd := range task.Install.Commands {
			if err := b.runCommand(ctx, task, cmd); err != nil {
				return err
			}
		}
	case ModeBuildShell:
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd := exec.CommandContext(ctx, shell)
		cmd.Dir = task.BuildPath
		cmd.Env = task.Env.Build.Pairs()
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := cmd.Start(); err != nil {
			return &AdapterError{Category: Spawn, Detail: err.Error()}
		}
		if err := cmd.Wait(); err != nil {
			return &AdapterError{Category: ExitNonZero, Detail: shell + ": " + err.Error()}
		}
		return nil
	case ModeExec:
		if err := b.runCommand(ctx, task, spec.Command); err != nil {
			return err
		}
		return nil
	}

	if skipInstall {
		return nil
	}
	// Stage is only promoted on full success, so a partial build never
	// leaves anything at InstallPath.
	if err := os.RemoveAll(task.InstallPath); err != nil {
		return &AdapterError{Category: Sandbox, Detail: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(task.InstallPath), 0o755); err != nil {
		return &AdapterError{Category: Sandbox, Detail: err.Error()}
	}
	if err := os.Rename(task.StagePath, task.InstallPath); err != nil {
		return &AdapterError{Category: Sandbox, Detail: err.Error()}
	}
	return nil
}

func (b *LocalBuilder) runCommand(ctx context.Context, task *plan.BuildTask, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = task.BuildPath
	cmd.Env = task.Env.Build.Pairs()
	cmd.Stdout = b.log().WriterLevel(logrus.DebugLevel)
	cmd.Stderr = b.log().WriterLevel(logrus.DebugLevel)
	if err := cmd.Start(); err != nil {
		return &AdapterError{Category: Spawn, Detail: err.Error()}
	}
	if err := cmd.Wait(); err != nil {
		return &AdapterError{Category: ExitNonZero, Detail: argv[0] + ": " + err.Error()}
	}
	return nil
}

// applyPatches runs patch(1) for each patch in manifest order. Patch
// filters are host conditions this builder cannot evaluate, so filtered
// patches are skipped with a warning rather than guessed at.
func (b *LocalBuilder) applyPatches(ctx context.Context, task *plan.BuildTask) error {
	for _, p := range task.Pkg.Manifest.Patches {
		if p.Filter != "" {
			b.log().WithFields(logrus.Fields{"pkg": task.Pkg.Name, "patch": p.Path}).Warn("skipping filtered patch")
			continue
		}
		cmd := exec.CommandContext(ctx, "patch", "-p1", "-i", filepath.Join(task.SourcePath, p.Path))
		cmd.Dir = task.BuildPath
		if out, err := cmd.CombinedOutput(); err != nil {
			return &AdapterError{Category: Patch, Detail: p.Path + ": " + string(out)}
		}
	}
	return nil
}

// materialize copies the package source tree into the build directory.
// Symlinks are recreated, everything else is copied byte for byte.
func materialize(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ Builder = (*LocalBuilder)(nil)
