package main

import (
	"os"

	"github.com/SDU-eScience/UCloud-sub021/cmd/jobmanager/cmd"
	"github.com/SDU-eScience/UCloud-sub021/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
