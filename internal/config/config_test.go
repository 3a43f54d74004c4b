package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMQTTTopic(t *testing.T) {

	topic, err := CheckMQTTTopic("MetaBase_1")
	assert.NoError(t, err)
	assert.Equal(t, "metabase_1", topic)

	_, err = CheckMQTTTopic("meta/base")
	assert.Error(t, err)
}

func TestCheckMAC(t *testing.T) {

	mac, err := CheckMAC("f5:6c:be:d5:61:47")
	assert.NoError(t, err)
	assert.Equal(t, "F5:6C:BE:D5:61:47", mac)

	_, err = CheckMAC("f56cbed56147")
	assert.Error(t, err)
}
