package app

import (
	"io"

	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/modules/env_vars"
	"github.com/specialistvlad/actiongrid/modules/http_request"
	"github.com/specialistvlad/actiongrid/modules/print"
	"github.com/specialistvlad/actiongrid/modules/s3"
	"github.com/specialistvlad/actiongrid/modules/sleep"
	"github.com/specialistvlad/actiongrid/modules/socketio"
)

// coreModules is the definitive list of all capabilities compiled into the
// actiongrid binary. print writes to outW.
func coreModules(outW io.Writer) []registry.Module {
	return []registry.Module{
		&env_vars.Module{},
		&print.Module{Out: outW},
		&http_request.Module{},
		&s3.Module{},
		&socketio.Module{},
		&sleep.Module{},
	}
}
