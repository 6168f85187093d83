package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/whispertype/whisperd/internal/plugins/manifest"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'new', 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "new":
		newCmd := flag.NewFlagSet("new", flag.ExitOnError)
		var name string
		newCmd.StringVar(&name, "name", "", "Plugin name (defaults to the directory name)")
		newCmd.Parse(os.Args[2:])
		dir := newCmd.Arg(0)
		if dir == "" {
			fmt.Fprintln(os.Stderr, "usage: whisperd-plugin new [-name <name>] <directory>")
			os.Exit(2)
		}
		if err := runNew(dir, name); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("plugin scaffold written to %s\n", dir)
	case "validate":
		validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
		var manifestPath string
		validateCmd.StringVar(&manifestPath, "file", "plugin.yaml", "Path to plugin manifest")
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(manifestPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("manifest valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	return manifest.Validate(m)
}

const manifestTemplate = `metadata:
  name: %s
  version: 0.1.0
  description: New whisperd plugin
  author: ""
runtime:
  mode: wasm
  module: build/%s.wasm
  entrypoint: run
  host_version: v1
capabilities:
  bus:
    subscribe:
      - transcript.final
permissions:
  - bus:publish
`

const buildNotesTemplate = `# Building %s

The plugin compiles to WASM with tinygo. From this directory:

    tinygo build -o build/%s.wasm -target=wasi ./src

The entrypoint is an exported function named run. Event data arrives via
the WHISPERD_EVENT_SUBJECT and WHISPERD_EVENT_PAYLOAD environment
variables; publish results back through the host_publish import, subject
to the subjects declared in plugin.yaml.

Check the manifest before deploying:

    whisperd-plugin validate -file plugin.yaml
`

// runNew writes a starter plugin directory: manifest plus build notes.
// It refuses to touch a directory that already holds a manifest.
func runNew(dir, name string) error {
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}
	manifestPath := filepath.Join(dir, "plugin.yaml")
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("%s already exists", manifestPath)
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		return fmt.Errorf("create plugin directory: %w", err)
	}

	contents := fmt.Sprintf(manifestTemplate, name, name)
	if err := os.WriteFile(manifestPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	notes := fmt.Sprintf(buildNotesTemplate, name, name)
	if err := os.WriteFile(filepath.Join(dir, "BUILD.md"), []byte(notes), 0o644); err != nil {
		return fmt.Errorf("write build notes: %w", err)
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("reload scaffolded manifest: %w", err)
	}
	return manifest.Validate(m)
}
