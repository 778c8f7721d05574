// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command devlog inspects and repairs device logs.
//
//	devlog [flags] check [-repair] dir [pattern...]
//	devlog [flags] stat dir device
//	devlog [flags] dump [-from key] [-to key] [-max n] dir device
//	devlog [flags] tail dir device
//
// Global flags configure the log segment, checker and logging; see
// devlog -help.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/devicelog/cmd/devlog/cmd"
	"github.com/grailbio/devicelog/config"
	"github.com/grailbio/devicelog/log"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flags := config.RegisterFlags(flag.CommandLine, "")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] subcommand [args]\n", os.Args[0])
		flag.PrintDefaults()
		cmd.PrintHelp()
	}
	flag.Parse()
	if err := flags.Process(); err != nil {
		log.Fatal(err)
	}
	flush, err := flags.SetupLog()
	if err != nil {
		log.Fatal(err)
	}
	err = cmd.Run(context.Background(), flags.Config, flag.Args())
	if ferr := flush(); ferr != nil {
		fmt.Fprintln(os.Stderr, ferr)
	}
	if err != nil {
		log.Fatal(err)
	}
}
