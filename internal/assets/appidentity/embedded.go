package appidentityassets

import _ "embed"

// YAML is the embedded application identity used when no external
// `.fulmen/app.yaml` is found, so the standalone binary still knows its
// name and KEKTECH_ env prefix.
//
//go:embed app.yaml
var YAML []byte
