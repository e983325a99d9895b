package configuration

import "github.com/armadaproject/eventloader/internal/common/config"

func (c EventLoaderConfiguration) Validate() error {
	return config.Validate(c)
}
