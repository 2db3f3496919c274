/*
Copyright 2023 The Sluice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Commands(t *testing.T) {

	t.Run("root execute", func(t *testing.T) {
		rootCmd.SetArgs([]string{"help"})
		assert.NotPanics(t, Execute)
	})

	t.Run("test root", func(t *testing.T) {
		b := bytes.NewBufferString("")
		rootCmd.SetOut(b)
		rootCmd.SetArgs([]string{"help"})
		Execute()
		output, _ := io.ReadAll(b)
		assert.Contains(t, string(output), "Available Commands")
	})

	t.Run("Run", func(t *testing.T) {
		cmd := NewRunCommand()
		assert.True(t, cmd.HasLocalFlags())
		assert.Equal(t, "run", cmd.Use)
		assert.Equal(t, "string", cmd.Flag("config").Value.Type())
		cmd.SetArgs([]string{"--config=/no/such/dir/pipeline.yaml"})
		err := cmd.Execute()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration file")
	})

	t.Run("RunInvalidConfig", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pipeline.yaml")
		assert.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0600))
		cmd := NewRunCommand()
		cmd.SetArgs([]string{"--config=" + path})
		err := cmd.Execute()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline name is not specified")
	})
}
