package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkivinie/stave"
	"github.com/jkivinie/stave/smf"
	"github.com/jkivinie/stave/version"
)

var outFile = flag.String("o", "", "output file; defaults to the input name with a .mid extension")
var trackName = flag.String("track", "", "export only the named track")
var strict = flag.Bool("strict", false, "reject unknown fields in the arrangement file")
var versionFlag = flag.Bool("v", false, "print version")

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		printUsage()
		os.Exit(1)
	}
	input := flag.Arg(0)

	arr, err := readArrangement(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
		os.Exit(1)
	}
	if *trackName != "" {
		arr = filterTrack(arr, *trackName)
		if len(arr.Tracks) == 0 {
			fmt.Fprintf(os.Stderr, "no track named %q in %s\n", *trackName, input)
			os.Exit(1)
		}
	}

	output := *outFile
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".mid"
	}
	f, err := os.Create(output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := smf.WriteArrangement(f, arr); err != nil {
		fmt.Fprintf(os.Stderr, "exporting %s: %v\n", output, err)
		os.Exit(1)
	}
}

func readArrangement(path string) (*stave.Arrangement, error) {
	if *strict {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return stave.ParseArrangementStrict(data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return stave.ReadArrangement(f)
}

func filterTrack(arr *stave.Arrangement, name string) *stave.Arrangement {
	filtered := *arr
	filtered.Tracks = nil
	for _, t := range arr.Tracks {
		if t.Name == name {
			filtered.Tracks = append(filtered.Tracks, t)
		}
	}
	return &filtered
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: stave-export [flags] arrangement.yml")
	flag.PrintDefaults()
}
