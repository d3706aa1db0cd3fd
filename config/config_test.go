/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mqtt:
  max_packet_size: 268435455
  max_keepalive: 120
  keepalive_multiplier: 1.5
  maximum_qos: 2
listen:
  tcp: ":1883"
log:
  level: info
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(120), c.Mqtt.MaxKeepAlive)
	assert.Equal(t, ":1883", c.Listen.TCP)
}

func TestValidateRejectsOutOfRangeQoS(t *testing.T) {
	c := &Config{Mqtt: Mqtt{MaximumQoS: 5}}
	assert.Error(t, c.Validate())
}

func TestReadTimeoutAppliesDefaultMultiplier(t *testing.T) {
	var m Mqtt
	assert.Equal(t, int64(90), int64(m.ReadTimeout(60).Seconds()))
}
