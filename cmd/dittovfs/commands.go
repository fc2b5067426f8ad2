package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/registry"
	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

func oneURI(name string, fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one URI", name)
	}
	return fs.Arg(0), nil
}

func runLs(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	kind := fs.String("type", "any", "Filter children: any, file or dir")
	_ = fs.Parse(args)

	uri, err := oneURI("ls", fs)
	if err != nil {
		return err
	}

	nodeType := vfs.NodeAny
	switch *kind {
	case "any":
	case "file":
		nodeType = vfs.NodeFile
	case "dir":
		nodeType = vfs.NodeDirectory
	default:
		return fmt.Errorf("ls: unknown type %q", *kind)
	}

	dir, err := reg.ResolveDirectory(ctx, uri)
	if err != nil {
		return err
	}
	children, err := dir.Children(ctx, nodeType)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Address().Name() < children[j].Address().Name()
	})

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, child := range children {
		name := child.Address().Name()
		size := "-"
		if child.Type() == vfs.NodeDirectory {
			name += "/"
		} else if n, ok := child.Attributes().Size(); ok {
			size = humanize.IBytes(uint64(n))
		}
		modified := "-"
		if t, ok := child.Attributes().Time(vfs.AttrLastWriteTime); ok {
			modified = humanize.Time(t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", size, modified, name)
	}
	return tw.Flush()
}

func runCat(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	_ = fs.Parse(args)

	uri, err := oneURI("cat", fs)
	if err != nil {
		return err
	}
	f, err := reg.ResolveFile(ctx, uri)
	if err != nil {
		return err
	}
	r, err := f.OpenReader(ctx)
	if err != nil {
		return err
	}
	return copyOut(os.Stdout, r)
}

func runPut(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("put: expected URI and optional local file")
	}

	var src io.ReadCloser = os.Stdin
	if fs.NArg() == 2 {
		local, err := os.Open(fs.Arg(1))
		if err != nil {
			return err
		}
		src = local
	}
	defer src.Close()

	f, err := reg.ResolveFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	w, err := f.OpenWriter(ctx)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s to %s\n", humanize.IBytes(uint64(n)), f.Address())
	return nil
}

func runMkdir(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	parents := fs.Bool("p", false, "Create missing parent directories")
	_ = fs.Parse(args)

	uri, err := oneURI("mkdir", fs)
	if err != nil {
		return err
	}
	dir, err := reg.ResolveDirectory(ctx, uri)
	if err != nil {
		return err
	}
	return dir.Create(ctx, *parents)
}

func runRm(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	recursive := fs.Bool("r", false, "Delete directories and their contents")
	_ = fs.Parse(args)

	uri, err := oneURI("rm", fs)
	if err != nil {
		return err
	}
	n, err := reg.Resolve(ctx, uri, vfs.NodeAny)
	if err != nil {
		return err
	}

	switch node := n.(type) {
	case vfs.File:
		exists, err := node.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fserr.NewFileNotFound(node.Address().String())
		}
		return node.Delete(ctx)
	case vfs.Directory:
		return node.Delete(ctx, *recursive)
	default:
		return fserr.NewNodeTypeNotSupported(uri, n.Type())
	}
}

func runStat(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	_ = fs.Parse(args)

	uri, err := oneURI("stat", fs)
	if err != nil {
		return err
	}
	n, err := reg.Resolve(ctx, uri, vfs.NodeAny)
	if err != nil {
		return err
	}
	if err := n.Refresh(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "address\t%s\n", n.Address())
	fmt.Fprintf(tw, "type\t%s\n", n.Type())
	attrs := n.Attributes()
	for _, key := range attrs.Keys() {
		v, _ := attrs.Get(key)
		switch val := v.(type) {
		case time.Time:
			fmt.Fprintf(tw, "%s\t%s (%s)\n", key, val.Format(time.RFC3339), humanize.Time(val))
		case int64:
			if key == vfs.AttrSize {
				fmt.Fprintf(tw, "%s\t%s (%s bytes)\n", key, humanize.IBytes(uint64(val)), humanize.Comma(val))
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\n", key, val)
		default:
			fmt.Fprintf(tw, "%s\t%v\n", key, val)
		}
	}
	return tw.Flush()
}

func runPing(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	count := fs.Int("n", 1, "Number of probes")
	_ = fs.Parse(args)

	uri, err := oneURI("ping", fs)
	if err != nil {
		return err
	}
	n, err := reg.Resolve(ctx, uri, vfs.NodeAny)
	if err != nil {
		return err
	}
	rfs, ok := n.FileSystem().(*remote.FileSystem)
	if !ok {
		return fserr.New(fserr.ErrNotSupported, "ping needs a remote address", uri)
	}

	for i := 0; i < *count; i++ {
		rtt, err := rfs.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s:%d: %s\n", rfs.Endpoint().Server, rfs.Endpoint().Port, rtt.Round(time.Microsecond))
	}
	return nil
}
