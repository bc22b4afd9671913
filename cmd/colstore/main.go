// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/colstore/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initBuildCmd()
	initInspectCmd()
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
}

var runCfg = util.DefaultConfig()
var cfgFile string

///root cmd

var info = "colstore"
var RootCmd = &cobra.Command{
	Use:          "colstore",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return util.InitLogger(runCfg.Log)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use colstore --help or -h")
	},
}

//build cmd

var buildInfo = "build a table file with generated rows"
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: buildInfo,
	Long:  buildInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if path := viper.GetString("build.path"); path != "" {
			runCfg.Storage.Path = path
		}
		return runBuild(runCfg, viper.GetInt("build.rows"), viper.GetInt("build.deleteEvery"))
	},
}

func initBuildCmd() {
	RootCmd.AddCommand(buildCmd)
	buildCmd.Flags().String("path", "", "table file path")
	buildCmd.Flags().Int("rows", 10000, "rows to generate")
	buildCmd.Flags().Int("delete-every", 0, "delete every n-th row. 0 keeps all")

	viper.BindPFlag("build.path", buildCmd.Flags().Lookup("path"))
	viper.BindPFlag("build.rows", buildCmd.Flags().Lookup("rows"))
	viper.BindPFlag("build.deleteEvery", buildCmd.Flags().Lookup("delete-every"))
}

//inspect cmd

var inspectInfo = "print the layout and the rows of a table file"
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: inspectInfo,
	Long:  inspectInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if path := viper.GetString("inspect.path"); path != "" {
			runCfg.Storage.Path = path
		}
		return runInspect(runCfg, viper.GetInt64("inspect.minId"), os.Stdout)
	},
}

func initInspectCmd() {
	RootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("path", "", "table file path")
	inspectCmd.Flags().Int64("min-id", 0, "only rows with id >= min-id")

	viper.BindPFlag("inspect.path", inspectCmd.Flags().Lookup("path"))
	viper.BindPFlag("inspect.minId", inspectCmd.Flags().Lookup("min-id"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "colstore.toml"

// loadConfig reads the config over the defaults. Without a config file
// the defaults are used.
func loadConfig() {
	if cfgFile != "" {
		cfg, err := util.LoadConfigFile(cfgFile)
		if err != nil {
			util.Error("load config file failed",
				zap.String("fpath", cfgFile),
				zap.Error(err))
			os.Exit(1)
		}
		runCfg = cfg
		return
	}
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if !util.FileIsValid(fpath) {
			continue
		}
		viper.SetConfigFile(fpath)
		err := viper.ReadInConfig()
		if err != nil {
			util.Error("viper load config file failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			continue
		}
		cfg := util.DefaultConfig()
		err = viper.Unmarshal(cfg)
		if err != nil {
			util.Error("viper decode config failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			os.Exit(1)
		}
		if err = cfg.Check(); err != nil {
			util.Error("invalid config",
				zap.String("fpath", fpath),
				zap.Error(err))
			os.Exit(1)
		}
		runCfg = cfg
		break
	}
}

func main() {
	defer util.Sync()
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
