package growatt

import (
	"fmt"
	"net/url"

	"github.com/raterudder/chargeplan/pkg/types"
)

const (
	actionMixSet              = "mixSet"
	typeMixACChargeTimePeriod = "mix_ac_charge_time_period"

	paramChargeStartHour    = 4
	paramDischargeStartHour = 6
)

// mixChargeTimeParams are the positional values the portal's web UI sends
// for tcpSet.do. Only the charge start and discharge start hours vary; the
// empty slots are filled per call.
var mixChargeTimeParams = [18]string{
	"90", "90", "1",
	"", "00", // charge start
	"", "00", // discharge start
	"1",
	"00", "00", "00", "00", "0",
	"00", "00", "00", "00", "0",
}

func chargeTimePeriodForm(serial string, decision types.ScheduleDecision) url.Values {
	data := url.Values{}
	data.Set("action", actionMixSet)
	data.Set("serialNum", serial)
	data.Set("type", typeMixACChargeTimePeriod)
	for i, v := range mixChargeTimeParams {
		n := i + 1
		switch n {
		case paramChargeStartHour:
			v = fmt.Sprintf("%02d", decision.ChargeStartHour)
		case paramDischargeStartHour:
			v = fmt.Sprintf("%02d", decision.LoadStartHour)
		}
		data.Set(fmt.Sprintf("param%d", n), v)
	}
	return data
}
