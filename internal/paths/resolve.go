package paths

import "os"

// Resolve applies a --home flag by exporting it as BERRY_HOME so every
// path helper sees it. Precedence: flag, environment, ~/.berry.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		_ = os.Setenv(EnvHome, flagOverride)
	}
	return BaseDir()
}
