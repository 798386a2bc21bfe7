// Пакет version хранит сведения о сборке, заполняемые через -ldflags
// при сборке сервиса.
package version

import "fmt"

var (
	version = "dev"
	commit  = "none"
	built   = "unknown"
)

// Info возвращает компоненты версии по отдельности.
func Info() (v, c, b string) { return version, commit, built }

// String возвращает строку версии для логов запуска и health-ответов.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, built)
}
