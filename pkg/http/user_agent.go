package http

import (
	"fmt"

	"github.com/litetx/ltxkit/pkg/global"
)

func UserAgent() string {
	return fmt.Sprintf("ltxkit/%s", global.Version)
}
