package main

import (
	"context"
	"os"

	"github.com/golang/glog"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
