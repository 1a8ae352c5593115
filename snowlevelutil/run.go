/*
Copyright © 2018 the SnowLevel authors.
This file is part of SnowLevel.

SnowLevel is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SnowLevel is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SnowLevel.  If not, see <http://www.gnu.org/licenses/>.
*/

package snowlevelutil

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialforecast/snowlevel"
)

// Run loads the diagnostic data from InputFile, calculates the falling
// snow level above sea level using the given threshold and precision,
// evaluates the OutputVariables expressions over the result, and writes
// them to OutputFile. Log output is copied to LogFile. NumProcessors
// limits the number of processors used when processing realizations;
// zero means use all available processors.
func Run(cmd *cobra.Command, LogFile, OutputFile string, OutputVariables map[string]string,
	FallingLevelThreshold, Precision float64, InputFile string, NumProcessors int) error {

	startTime := time.Now()

	logfile, err := os.Create(LogFile)
	if err != nil {
		return fmt.Errorf("snowlevel: problem creating log file: %v", err)
	}
	defer logfile.Close()
	logger.Out = io.MultiWriter(cmd.OutOrStdout(), logfile)

	if NumProcessors != 0 {
		runtime.GOMAXPROCS(NumProcessors)
	}

	o, err := snowlevel.NewOutputter(OutputVariables, nil)
	if err != nil {
		return err
	}

	logger.WithField("file", InputFile).Info("Reading input data")
	r, err := os.Open(InputFile)
	if err != nil {
		return fmt.Errorf("snowlevel: problem opening input file: %v", err)
	}
	defer r.Close()
	d, err := snowlevel.LoadDiagData(r)
	if err != nil {
		return err
	}
	wbInt, err := d.Field(snowlevel.VarWetBulbIntegral)
	if err != nil {
		return err
	}
	orog, err := d.Field(snowlevel.VarOrography)
	if err != nil {
		return err
	}
	landSea, err := d.Field(snowlevel.VarLandSeaMask)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"threshold": FallingLevelThreshold,
		"precision": Precision,
	}).Info("Calculating falling snow level")
	plugin := &snowlevel.FallingSnowLevel{
		FallingLevelThreshold: FallingLevelThreshold,
		Precision:             Precision,
	}
	result, err := plugin.Process(wbInt, d.Heights, orog, landSea)
	if err != nil {
		return err
	}
	// Points on the domain boundary can stay unresolved; report but
	// don't fail.
	if n := snowlevel.UnresolvedCount(result.Data); n > 0 {
		logger.WithField("points", n).Warn("Some grid points could not be resolved")
	}

	logger.Info("Evaluating output variables")
	out := &snowlevel.DiagData{
		Heights:       d.Heights,
		ValidTime:     d.ValidTime,
		ReferenceTime: d.ReferenceTime,
		Realizations:  d.Realizations,
	}
	derived, err := o.Output(result, orog, landSea)
	if err != nil {
		return err
	}
	for _, f := range derived {
		if err := out.AddField(f); err != nil {
			return err
		}
	}

	logger.WithField("file", OutputFile).Info("Writing output")
	w, err := os.Create(OutputFile)
	if err != nil {
		return fmt.Errorf("snowlevel: problem creating output file: %v", err)
	}
	if err := out.Write(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	logger.WithField("elapsed", time.Since(startTime)).Info("Finished")
	return nil
}
