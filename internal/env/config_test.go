package env_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/respwire/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig", func() {
		AfterEach(func() {
			os.Unsetenv("RESPWIRE_TRACE")
			os.Unsetenv("RESPWIRE_MAX_FRAME_SIZE")
			os.Unsetenv("RESPWIRE_RENAME_FILE")
		})

		It("reads the RESPWIRE_ variables", func() {
			os.Setenv("RESPWIRE_TRACE", "true")
			os.Setenv("RESPWIRE_MAX_FRAME_SIZE", "1024")
			os.Setenv("RESPWIRE_RENAME_FILE", "/etc/respwire.toml")

			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())
			Expect(conf.Trace).To(BeTrue())
			Expect(conf.MaxFrameSize).To(Equal(1024))
			Expect(conf.RenameFile).To(Equal("/etc/respwire.toml"))
		})

		It("rejects malformed values", func() {
			os.Setenv("RESPWIRE_MAX_FRAME_SIZE", "lots")

			_, err := env.LoadConfig(context.Background())
			Expect(err).NotTo(Succeed())
		})
	})

	Describe("LoadCommandRenames", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "respwire-env")
			Expect(err).To(Succeed())
		})

		AfterEach(func() {
			Expect(os.RemoveAll(dir)).To(Succeed())
		})

		writeFile := func(contents string) string {
			path := filepath.Join(dir, "renames.toml")
			Expect(os.WriteFile(path, []byte(contents), 0600)).To(Succeed())
			return path
		}

		It("reads the rename table", func() {
			path := writeFile("[rename]\nGET = \"FETCH\"\nFLUSHALL = \"\"\n")

			renames, err := env.LoadCommandRenames(path)
			Expect(err).To(Succeed())
			Expect(renames).To(Equal(map[string]string{
				"GET":      "FETCH",
				"FLUSHALL": "",
			}))
		})

		It("returns an empty table when the file has none", func() {
			renames, err := env.LoadCommandRenames(writeFile("# nothing here\n"))
			Expect(err).To(Succeed())
			Expect(renames).To(BeEmpty())
		})

		It("fails on missing or malformed files", func() {
			_, err := env.LoadCommandRenames(filepath.Join(dir, "missing.toml"))
			Expect(err).To(MatchError(ContainSubstring("loading command renames")))

			_, err = env.LoadCommandRenames(writeFile("[rename\n"))
			Expect(err).NotTo(Succeed())
		})
	})
})
