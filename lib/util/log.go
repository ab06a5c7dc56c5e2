package util

import "github.com/pfirsich/cm4all-lukko/lib/util/logger"

var log = logger.GetLukkoLogger()
