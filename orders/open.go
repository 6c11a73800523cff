// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orders

import (
	"context"
	"fmt"
	"net/url"

	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
)

func pgDSN(conf cnf.OrdersDBConf) string {
	if conf.DSN != "" {
		return conf.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conf.User, conf.Passwd),
		Host:   conf.Host,
		Path:   "/" + conf.Name,
	}
	return u.String()
}

// Open creates an order source based on the configured database type.
// The returned function releases the underlying connections.
func Open(ctx context.Context, conf cnf.OrdersDBConf) (Source, func(), error) {
	switch conf.Type {
	case "postgres":
		src, err := NewPgSource(ctx, pgDSN(conf), conf.Table)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case "mysql":
		src, err := NewMySQLSource(conf.Host, conf.User, conf.Passwd, conf.Name, conf.Table)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	case "sqlite":
		src, err := NewSQLiteSource(conf.Path, conf.Table)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported orders database type '%s'", conf.Type)
}
